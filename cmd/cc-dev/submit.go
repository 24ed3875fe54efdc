package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var (
	submitFile         string
	submitInstructions string
	submitTargetMin    int
	submitTargetMax    int
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a source document for reconstruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		var source []byte
		var err error
		if submitFile != "" {
			source, err = os.ReadFile(submitFile)
		} else {
			source, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}

		body, err := json.Marshal(map[string]any{
			"source_text":  string(source),
			"instructions": submitInstructions,
			"target_min":   submitTargetMin,
			"target_max":   submitTargetMax,
		})
		if err != nil {
			return err
		}

		resp, err := http.Post(apiAddr+"/jobs", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("submit job: %s: %s", resp.Status, respBody)
		}
		fmt.Println(string(respBody))
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitFile, "file", "", "path to source document (default: stdin)")
	submitCmd.Flags().StringVar(&submitInstructions, "instructions", "", "free-text length/style instructions")
	submitCmd.Flags().IntVar(&submitTargetMin, "target-min", 0, "explicit minimum target word count")
	submitCmd.Flags().IntVar(&submitTargetMax, "target-max", 0, "explicit maximum target word count")
}
