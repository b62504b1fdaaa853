package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Client flags shared by the search and ingest subcommands, which talk
// to a running ragd over HTTP.
var (
	serverURL    string
	userID       string
	collectionID string
	preset       string
)

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, ingestCmd} {
		cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "ragd server URL")
		cmd.Flags().StringVar(&userID, "user", "", "user ID (required)")
		cmd.Flags().StringVar(&collectionID, "collection", "", "collection ID (required)")
		_ = cmd.MarkFlagRequired("user")
		_ = cmd.MarkFlagRequired("collection")
	}
	searchCmd.Flags().StringVar(&preset, "preset", "", "pipeline preset (default, fast, accurate, cost_optimized, comprehensive)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(ingestCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <question>",
	Short: "Run a search against a running ragd server",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := json.Marshal(map[string]any{
			"collection_id": collectionID,
			"question":      strings.Join(args, " "),
			"preset":        preset,
		})
		if err != nil {
			return err
		}
		return post(serverURL+"/api/v1/search", "application/json", bytes.NewReader(body))
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Upload a document to a collection on a running ragd server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filepath.Base(args[0]))
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, f); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}
		return post(serverURL+"/api/v1/collections/"+collectionID+"/documents",
			mw.FormDataContentType(), &buf)
	},
}

// post sends the request with the user header and prints the JSON reply.
func post(url, contentType string, body io.Reader) error {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-User-ID", userID)

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		pretty.Write(raw)
	}
	fmt.Println(pretty.String())

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}
