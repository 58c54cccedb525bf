package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/mayflydoe/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		var jobs []server.Job
		if err := getJSON(serverURL+"/api/v1/jobs", &jobs); err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No jobs found")
			return nil
		}
		fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
		for _, job := range jobs {
			printJobSummary(out, job)
		}
		return nil
	}

	var job server.Job
	if err := getJSON(serverURL+"/api/v1/jobs/"+args[0], &job); err != nil {
		return err
	}
	printJobDetail(out, job)
	return nil
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("not found: %s", url)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func printJobSummary(w io.Writer, job server.Job) {
	p := job.Request.Problem
	fmt.Fprintf(w, "Job ID: %s\n", job.ID)
	fmt.Fprintf(w, "  State: %s\n", job.State)
	fmt.Fprintf(w, "  Experiments: %d (%s, %s)\n", job.Request.NExperiments, p.Criterion, p.Options.Strategy)
	if job.State == server.StateCompleted {
		fmt.Fprintf(w, "  Value: %.6g\n", job.Value)
	}
	fmt.Fprintln(w)
}

func printJobDetail(w io.Writer, job server.Job) {
	p := job.Request.Problem
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "State: %s\n\n", job.State)

	fmt.Fprintln(w, "Problem:")
	fmt.Fprintf(w, "  Inputs: %d\n", len(p.Space.Inputs))
	fmt.Fprintf(w, "  Constraints: %d\n", len(p.Space.Constraints))
	fmt.Fprintf(w, "  Formula: %s\n", p.Formula)
	fmt.Fprintf(w, "  Criterion: %s\n", p.Criterion)
	fmt.Fprintf(w, "  Strategy: %s\n", p.Options.Strategy)
	fmt.Fprintf(w, "  Experiments: %d\n\n", job.Request.NExperiments)

	fmt.Fprintln(w, "Progress:")
	if job.Phase != "" {
		fmt.Fprintf(w, "  Phase: %s\n", job.Phase)
	}
	fmt.Fprintf(w, "  Updates: %d\n", job.Updates)
	if job.Updates > 0 {
		fmt.Fprintf(w, "  Best: %.6g\n", job.Best)
	}
	if job.Nodes > 0 {
		fmt.Fprintf(w, "  Nodes: %d\n", job.Nodes)
	}
	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	fmt.Fprintf(w, "  Elapsed: %s\n", end.Sub(job.StartTime).Round(time.Millisecond))

	if job.State == server.StateCompleted {
		fmt.Fprintf(w, "  Value: %.6g (converged: %v)\n", job.Value, job.Converged)
	}
	if job.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", job.Error)
	}
}
