package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
	"ragdesk/internal/citation"
	"ragdesk/internal/config"
	"ragdesk/internal/ollama"
	"ragdesk/internal/session"
	"ragdesk/internal/storage"
	"ragdesk/internal/viewer"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat against the selected retriever",
	Long: `Interactive chat against the selected retriever.

Plain input is submitted as a query. Slash commands:
  /use <name>   select a retriever
  /mode <m>     set the query mode (retrieve or retrieve+generate)
  /open <n>     open citation n from the last answer in the viewer
  /quit         exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func runChat(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	backendClient := backend.New(cfg.Backend.DocServerURL)
	if !backendClient.Configured() {
		return fmt.Errorf("no document server configured; run: ragdesk config set backend.doc_server_url <url>")
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	sess := session.New(backendClient)
	if err := sess.Refresh(ctx); err != nil {
		return err
	}

	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	history := chat.NewHistory(store)
	orchestrator := chat.NewOrchestrator(backendClient, ollamaClient, sess, history, cfg.Ollama.Model)
	view := viewer.New(filepath.Join(cfg.Storage.DataDir, "cache"))
	resolver := citation.NewResolver(backendClient, view)

	retrievers := sess.Retrievers()
	if len(retrievers) == 0 {
		return fmt.Errorf("no retrievers available on the document server")
	}
	fmt.Println("Available retrievers:")
	for _, r := range retrievers {
		fmt.Printf("  %s (%s)\n", colorize(colorBold, r.Name), r.Type)
	}
	if err := sess.Select(ctx, retrievers[0].Name); err != nil {
		return err
	}
	fmt.Printf("Using %s. Type /quit to exit.\n", colorize(colorCyan, retrievers[0].Name))

	mode := chat.ModeRetrieveGenerate
	if !ollamaClient.IsRunning(ctx) {
		printWarning("Ollama not running, falling back to retrieve-only mode")
		mode = chat.ModeRetrieve
	}

	var lastChunks []backend.Chunk
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if line == "/quit" || line == "/exit" {
				return nil
			}
			if err := handleSlashCommand(ctx, line, sess, resolver, view, &mode, lastChunks); err != nil {
				printError("%v", err)
			}
			continue
		}

		answer, err := orchestrator.Submit(ctx, line, mode)
		if err != nil {
			printError("%v", err)
			continue
		}

		fmt.Printf("\n%s\n", answer.Text())
		lastChunks = answer.Chunks
		for i, c := range answer.Chunks {
			page := c.Page()
			if page < 1 {
				page = 1
			}
			fmt.Printf("  %s doc %d, page %d (%.0f%%)\n",
				colorize(colorCyan, fmt.Sprintf("[%d]", i+1)), c.DocumentID, page, c.Confidence*100)
		}
		fmt.Println()
	}
}

func handleSlashCommand(ctx context.Context, line string, sess *session.Session, resolver *citation.Resolver, view *viewer.Viewer, mode *chat.Mode, lastChunks []backend.Chunk) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/use":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /use <retriever>")
		}
		if err := sess.Select(ctx, fields[1]); err != nil {
			return err
		}
		printSuccess("Using %s (%d documents)", fields[1], len(sess.Documents()))
		return nil

	case "/mode":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /mode retrieve|retrieve+generate")
		}
		m := chat.Mode(fields[1])
		if m != chat.ModeRetrieve && m != chat.ModeRetrieveGenerate {
			return fmt.Errorf("unknown mode %q", fields[1])
		}
		*mode = m
		printSuccess("Mode set to %s", m)
		return nil

	case "/open":
		if len(fields) != 2 {
			return fmt.Errorf("usage: /open <citation number>")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(lastChunks) {
			return fmt.Errorf("no citation %q in the last answer", fields[1])
		}
		cit, err := resolver.Resolve(ctx, lastChunks[n-1])
		if err != nil {
			return err
		}
		printSuccess("%s", cit.Label)
		if page, ok := view.State.ConsumeTarget(); ok {
			doc := view.Document()
			fmt.Printf("  %s, %d pages, now at page %d\n", doc.URL, doc.NumPages, page)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %s", fields[0])
	}
}

// --- retrievers ---

var retrieversCmd = &cobra.Command{
	Use:   "retrievers",
	Short: "List retrievers on the document server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := backend.New(cfg.Backend.DocServerURL)

		retrievers, err := client.ListRetrievers(cmd.Context())
		if err != nil {
			return err
		}
		if len(retrievers) == 0 {
			fmt.Println("No retrievers found.")
			return nil
		}
		for _, r := range retrievers {
			fmt.Printf("%s  %s", colorize(colorBold, r.Name), r.Type)
			if r.Description != "" {
				fmt.Printf("  %s", r.Description)
			}
			fmt.Println()
		}
		return nil
	},
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage the document library",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := backend.New(cfg.Backend.DocServerURL)

		docs, err := client.ListDocuments(cmd.Context())
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}
		for _, d := range docs {
			fmt.Printf("%s  %s\n", colorize(colorCyan, fmt.Sprintf("%4d", d.ID)), d.Name)
		}
		return nil
	},
}

var docsUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document to the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := backend.New(cfg.Backend.DocServerURL)

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening file: %w", err)
		}
		defer f.Close()

		msg, err := client.UploadDocument(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return err
		}
		printSuccess("Uploaded %s: %s", filepath.Base(args[0]), msg)
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id %q", args[0])
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		client := backend.New(cfg.Backend.DocServerURL)

		if err := client.DeleteDocument(cmd.Context(), id); err != nil {
			return err
		}
		printSuccess("Deleted document %d", id)
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsUploadCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ragdesk system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		client := backend.New(cfg.Backend.DocServerURL)
		if !client.Configured() {
			printStatus("Document server", "not configured")
		} else if retrievers, err := client.ListRetrievers(cmd.Context()); err != nil {
			printStatus("Document server", "unreachable (%v)", err)
		} else {
			printStatus("Document server", "%s (%d retrievers)", cfg.Backend.DocServerURL, len(retrievers))
		}

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		if ollamaClient.IsRunning(cmd.Context()) {
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "not running")
		}
		printStatus("Model", "%s", cfg.Ollama.Model)

		if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
			if n, err := store.CountTurns(); err == nil {
				printStatus("Stored turns", "%d", n)
			}
			store.Close()
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
