package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cshekharsharma/treecrdt"
)

// applyCmd replays a batch of mutations from a YAML file in one shot,
// mirroring cuemby-warren's "apply -f resource.yaml" declarative-batch
// pattern rather than one flag-driven command per mutation.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a batch of mutations from a YAML file",
	Long: `Apply reads a YAML document describing a sequence of tree
mutations and applies them in order against the document at --db.

Example:

  replica: alice
  ops:
    - kind: insert
      node: 00000000000000000000000000000001
      parent: ROOT
      payload: "hello"
    - kind: setPayload
      node: 00000000000000000000000000000001
      payload: "updated"`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML batch file to apply (required)")
	applyCmd.MarkFlagRequired("file")
}

// batchOp is one entry in an apply batch file. Which fields are meaningful
// depends on Kind, mirroring Operation's own inlined-variant shape.
type batchOp struct {
	Kind      string `yaml:"kind"` // insert | move | delete | setPayload
	Parent    string `yaml:"parent,omitempty"`
	Node      string `yaml:"node"`
	After     string `yaml:"after,omitempty"`
	NewParent string `yaml:"newParent,omitempty"`
	Payload   string `yaml:"payload,omitempty"`
	Tombstone string `yaml:"tombstone,omitempty"`
}

type batchFile struct {
	Replica string    `yaml:"replica"`
	Ops     []batchOp `yaml:"ops"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}

	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}
	if batch.Replica != "" {
		cmd.Flags().Set("replica", batch.Replica)
	}

	tree, store, err := openTree(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	for i, op := range batch.Ops {
		if err := applyBatchOp(tree, op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
		fmt.Printf("applied op %d: %s %s\n", i, op.Kind, op.Node)
	}
	return nil
}

func applyBatchOp(tree *treecrdt.TreeCrdt, op batchOp) error {
	node, err := parseNodeArg(op.Node)
	if err != nil {
		return err
	}

	switch op.Kind {
	case "insert":
		parent, err := parseNodeArg(op.Parent)
		if err != nil {
			return err
		}
		after, err := parseOptionalNode(op.After)
		if err != nil {
			return err
		}
		_, err = tree.LocalInsert(parent, node, after, []byte(op.Payload))
		return err
	case "move":
		newParent, err := parseNodeArg(op.NewParent)
		if err != nil {
			return err
		}
		after, err := parseOptionalNode(op.After)
		if err != nil {
			return err
		}
		_, err = tree.LocalMove(node, newParent, after)
		return err
	case "delete":
		_, err := tree.LocalDelete(node, []byte(op.Tombstone))
		return err
	case "setPayload":
		_, err := tree.LocalSetPayload(node, []byte(op.Payload))
		return err
	default:
		return fmt.Errorf("unsupported op kind %q", op.Kind)
	}
}

func parseOptionalNode(s string) (*treecrdt.NodeId, error) {
	if s == "" {
		return nil, nil
	}
	n, err := parseNodeArg(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
