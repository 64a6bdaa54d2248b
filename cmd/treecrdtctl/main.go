// Command treecrdtctl is a local experimentation/demo CLI host bridge for
// the treecrdt core, following the cobra root-command + persistent-flag
// shape of cuemby-warren/cmd/warren: a single binary with subcommands for
// every tree mutation plus read-side inspection, all operating against a
// SQLite-backed document on disk.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cshekharsharma/treecrdt"
	"github.com/cshekharsharma/treecrdt/internal/clilog"
	"github.com/cshekharsharma/treecrdt/sqlitestore"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "treecrdtctl",
	Short: "treecrdtctl drives a TreeCRDT document for local experimentation",
	Long: `treecrdtctl is a single-binary CLI for creating, mutating, and
inspecting a replicated tree document backed by a local SQLite file.

Every subcommand opens (or creates) the document at --db, applies one
mutation, a batch of mutations (apply), or a read, and exits — there is no long-running server; this is a
host bridge for scripting and manual testing, not production deployment.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (overridden by flags)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON instead of console format")
	rootCmd.PersistentFlags().String("db", "treecrdt.db", "path to the SQLite document")
	rootCmd.PersistentFlags().String("replica", "", "replica id for local operations (generated if empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd, insertCmd, moveCmd, deleteCmd, setPayloadCmd, childrenCmd, parentCmd, dumpCmd, applyCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")

	cfgPath, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgPath != "" {
		if fileCfg, err := loadConfig(cfgPath); err == nil {
			if level == "info" {
				level = fileCfg.LogLevel
			}
		}
	}
	clilog.Init(clilog.Config{Level: level, JSONOutput: jsonOut})
}

// resolveReplica returns the --replica flag value, falling back to a fresh
// UUID-derived identity when none was given — treecrdtctl is a
// single-operator demo tool, so a stable human-chosen name is convenient
// but not required.
func resolveReplica(cmd *cobra.Command) treecrdt.ReplicaId {
	name, _ := cmd.Flags().GetString("replica")
	if name == "" {
		name = uuid.NewString()
	}
	return treecrdt.NewReplicaId([]byte(name))
}

func openTree(cmd *cobra.Command) (*treecrdt.TreeCrdt, *sqlitestore.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open document: %w", err)
	}

	replica := resolveReplica(cmd)
	clock := treecrdt.NewLamportClock()
	tree, err := treecrdt.New(replica, store, clock, treecrdt.WithLogger(clilog.WithComponent("tree")))
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("construct tree: %w", err)
	}
	if err := tree.ReplayFromStorage(); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("replay document: %w", err)
	}
	return tree, store, nil
}

func parseNodeArg(s string) (treecrdt.NodeId, error) {
	switch s {
	case "", "ROOT":
		return treecrdt.RootID, nil
	case "TRASH":
		return treecrdt.TrashID, nil
	}
	var hi, lo uint64
	if _, err := fmt.Sscanf(s, "%016x%016x", &hi, &lo); err != nil {
		return treecrdt.NodeId{}, fmt.Errorf("malformed node id %q (want ROOT, TRASH, or 32 hex chars): %w", s, err)
	}
	return treecrdt.NewNodeID(hi, lo), nil
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create (or verify) the SQLite document at --db",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		store, err := sqlitestore.Open(dbPath)
		if err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		defer store.Close()
		fmt.Printf("document ready: %s\n", dbPath)
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert",
	Short: "Insert a node under a parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		parentArg, _ := cmd.Flags().GetString("parent")
		nodeArg, _ := cmd.Flags().GetString("node")
		afterArg, _ := cmd.Flags().GetString("after")
		payload, _ := cmd.Flags().GetString("payload")

		parent, err := parseNodeArg(parentArg)
		if err != nil {
			return err
		}
		node, err := parseNodeArg(nodeArg)
		if err != nil {
			return err
		}
		var after *treecrdt.NodeId
		if afterArg != "" {
			a, err := parseNodeArg(afterArg)
			if err != nil {
				return err
			}
			after = &a
		}

		op, err := tree.LocalInsert(parent, node, after, []byte(payload))
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		fmt.Printf("inserted %s under %s (op %s)\n", node, parent, op.Meta.ID)
		return nil
	},
}

func init() {
	insertCmd.Flags().String("parent", "ROOT", "parent node id (ROOT, TRASH, or hex)")
	insertCmd.Flags().String("node", "", "new node id (hex) (required)")
	insertCmd.Flags().String("after", "", "sibling to insert after (empty = head)")
	insertCmd.Flags().String("payload", "", "initial payload bytes (as a string)")
	insertCmd.MarkFlagRequired("node")
}

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move a node to a new parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		nodeArg, _ := cmd.Flags().GetString("node")
		newParentArg, _ := cmd.Flags().GetString("new-parent")
		afterArg, _ := cmd.Flags().GetString("after")

		node, err := parseNodeArg(nodeArg)
		if err != nil {
			return err
		}
		newParent, err := parseNodeArg(newParentArg)
		if err != nil {
			return err
		}
		var after *treecrdt.NodeId
		if afterArg != "" {
			a, err := parseNodeArg(afterArg)
			if err != nil {
				return err
			}
			after = &a
		}

		op, err := tree.LocalMove(node, newParent, after)
		if err != nil {
			return fmt.Errorf("move: %w", err)
		}
		fmt.Printf("moved %s to %s (op %s)\n", node, newParent, op.Meta.ID)
		return nil
	},
}

func init() {
	moveCmd.Flags().String("node", "", "node to move (required)")
	moveCmd.Flags().String("new-parent", "", "destination parent (required)")
	moveCmd.Flags().String("after", "", "sibling to insert after (empty = head)")
	moveCmd.MarkFlagRequired("node")
	moveCmd.MarkFlagRequired("new-parent")
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Defensively delete a node (move it to TRASH)",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		nodeArg, _ := cmd.Flags().GetString("node")
		tombstone, _ := cmd.Flags().GetString("tombstone")

		node, err := parseNodeArg(nodeArg)
		if err != nil {
			return err
		}
		op, err := tree.LocalDelete(node, []byte(tombstone))
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		fmt.Printf("deleted %s (op %s)\n", node, op.Meta.ID)
		return nil
	},
}

func init() {
	deleteCmd.Flags().String("node", "", "node to delete (required)")
	deleteCmd.Flags().String("tombstone", "", "optional tombstone payload")
	deleteCmd.MarkFlagRequired("node")
}

var setPayloadCmd = &cobra.Command{
	Use:   "set-payload",
	Short: "Replace a node's payload",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		nodeArg, _ := cmd.Flags().GetString("node")
		payload, _ := cmd.Flags().GetString("payload")

		node, err := parseNodeArg(nodeArg)
		if err != nil {
			return err
		}
		op, err := tree.LocalSetPayload(node, []byte(payload))
		if err != nil {
			return fmt.Errorf("set-payload: %w", err)
		}
		fmt.Printf("set payload on %s (op %s)\n", node, op.Meta.ID)
		return nil
	},
}

func init() {
	setPayloadCmd.Flags().String("node", "", "node to update (required)")
	setPayloadCmd.Flags().String("payload", "", "new payload bytes (as a string)")
	setPayloadCmd.MarkFlagRequired("node")
}

var childrenCmd = &cobra.Command{
	Use:   "children",
	Short: "List the ordered children of a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		parentArg, _ := cmd.Flags().GetString("parent")
		parent, err := parseNodeArg(parentArg)
		if err != nil {
			return err
		}
		kids, err := tree.Children(parent)
		if err != nil {
			return fmt.Errorf("children: %w", err)
		}
		for _, k := range kids {
			fmt.Println(k)
		}
		return nil
	},
}

func init() {
	childrenCmd.Flags().String("parent", "ROOT", "parent node id")
}

var parentCmd = &cobra.Command{
	Use:   "parent",
	Short: "Print a node's current parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		nodeArg, _ := cmd.Flags().GetString("node")
		node, err := parseNodeArg(nodeArg)
		if err != nil {
			return err
		}
		parent, ok, err := tree.Parent(node)
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		if !ok {
			fmt.Println("<none>")
			return nil
		}
		fmt.Println(parent)
		return nil
	},
}

func init() {
	parentCmd.Flags().String("node", "", "node to query (required)")
	parentCmd.MarkFlagRequired("node")
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump every materialized (node, parent) edge",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, store, err := openTree(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		edges, err := tree.Nodes()
		if err != nil {
			return fmt.Errorf("dump: %w", err)
		}
		for _, e := range edges {
			fmt.Printf("%s -> %s\n", e.Node, e.Parent)
		}
		return nil
	},
}
