package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch a job's current status and output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(apiAddr + "/jobs/" + args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("get job: %s: %s", resp.Status, body)
		}
		fmt.Println(string(body))
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort <job-id>",
	Short: "Request abort-at-next-chunk-boundary for a running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction(args[0], "abort")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a failed or aborted job from its last completed chunk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAction(args[0], "resume")
	},
}

func postAction(jobID, action string) error {
	resp, err := http.Post(apiAddr+"/jobs/"+jobID+"/"+action, "application/json", nil)
	if err != nil {
		return fmt.Errorf("%s job: %w", action, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s job: %s: %s", action, resp.Status, body)
	}
	fmt.Println(string(body))
	return nil
}
