package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rayied/cora/pkg/config"
	"github.com/rayied/cora/pkg/embedder"
	"github.com/rayied/cora/pkg/indexer"
	"github.com/rayied/cora/pkg/vector"
)

// IndexCmd ingests the knowledge base into the vector store.
type IndexCmd struct {
	DataDir string `help:"Knowledge base directory (overrides config)." type:"path"`
	Reset   bool   `help:"Destroy the collection before indexing."`
	Stats   bool   `help:"Print collection statistics and exit."`
	Yes     bool   `short:"y" help:"Skip the reset confirmation prompt."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	cfg, closeLog, err := loadConfig(cli)
	if err != nil {
		return err
	}
	defer closeLog()

	if c.DataDir != "" {
		cfg.Indexer.DataDir = c.DataDir
	}

	ctx := context.Background()

	store, err := vector.NewChromemStore(vector.ChromemConfig{
		Path:       cfg.Vector.Path,
		Compress:   cfg.Vector.Compress,
		Collection: config.CollectionName,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Stats {
		n, err := store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Collection: %s\n", config.CollectionName)
		fmt.Printf("Records:    %d\n", n)
		fmt.Printf("Location:   %s\n", cfg.Vector.Path)
		return nil
	}

	if c.Reset {
		if !c.Yes && !confirm(fmt.Sprintf("Destroy collection %q and re-index?", config.CollectionName)) {
			fmt.Println("Aborted.")
			return nil
		}
		if err := store.Reset(ctx); err != nil {
			return err
		}
		fmt.Println("Collection reset.")
	}

	embed := embedder.NewOllama(embedder.Config{
		Host:       cfg.Embedder.Host,
		Model:      cfg.Embedder.Model,
		Dimension:  cfg.Embedder.Dimension,
		Timeout:    cfg.Embedder.Timeout,
		MaxRetries: cfg.Embedder.MaxRetries,
	})

	ix := indexer.New(store, embed, indexer.Config{
		ChunkSize:    cfg.Indexer.ChunkSize,
		ChunkOverlap: cfg.Indexer.ChunkOverlap,
		BatchSize:    cfg.Indexer.BatchSize,
	})

	result, err := ix.Run(ctx, cfg.Indexer.DataDir)
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d files: %d article variants, %d PDF chunks, %d records total.\n",
		result.Files, result.ArticleVariants, result.Chunks, result.Records)

	if len(result.Errors) > 0 {
		fmt.Printf("%d items skipped:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %v\n", e)
		}
	}

	n, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Collection now holds %d records.\n", n)

	return nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
