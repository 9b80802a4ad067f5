package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/batchpoll/pkg/model"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage polling jobs",
	}
	cmd.AddCommand(
		newJobCreateCmd(),
		newJobListCmd(),
		newJobStatusCmd(),
		newJobUpdateCmd(),
		newJobPauseCmd(),
		newJobResumeCmd(),
		newJobDeleteCmd(),
		newJobLogsCmd(),
	)
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var req model.CreateJobRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start polling an upstream batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var job model.Job
			if _, err := client.getInto("POST", "/api/v1/jobs", req, &job); err != nil {
				return fmt.Errorf("create job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job created: %s\n", job.ID)
			printJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Display name")
	f.StringVar(&req.BatchHandle, "batch", "", "Upstream batch id")
	f.StringVar(&req.StatusSecretID, "status-secret", "", "Secret id used for status queries (kind openai)")
	f.StringVar(&req.TriggerSecretID, "trigger-secret", "", "Secret id used for the completion trigger (kind keboola)")
	f.StringVar(&req.Target.StackURL, "stack-url", "", "Trigger stack URL (server default when empty)")
	f.StringVar(&req.Target.ComponentID, "component", "", "Trigger component id")
	f.StringVar(&req.Target.ConfigurationID, "config", "", "Trigger configuration id")
	f.IntVar(&req.IntervalSeconds, "interval", 0, "Polling interval in seconds (server default when 0)")
	for _, name := range []string{"name", "batch", "status-secret", "trigger-secret", "component", "config"} {
		cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newJobListCmd() *cobra.Command {
	var status string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if offset > 0 {
				q.Set("offset", strconv.Itoa(offset))
			}
			path := "/api/v1/jobs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var jobs []model.Job
			resp, err := client.getInto("GET", path, nil, &jobs)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-10s  %-24s  %s\n", "ID", "STATUS", "NAME", "NEXT CHECK")
			fmt.Fprintf(out, "%-40s  %-10s  %-24s  %s\n", "--", "------", "----", "----------")
			for _, j := range jobs {
				fmt.Fprintf(out, "%-40s  %-10s  %-24s  %s\n", j.ID, j.Status, truncate(j.Name, 24), formatTime(j.NextCheckAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(jobs), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active, paused, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum jobs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Jobs to skip")
	return cmd
}

func newJobStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job model.Job
			if _, err := client.getInto("GET", "/api/v1/jobs/"+args[0], nil, &job); err != nil {
				return fmt.Errorf("get job: %w", err)
			}
			printJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}
}

func newJobUpdateCmd() *cobra.Command {
	var name string
	var interval int

	cmd := &cobra.Command{
		Use:   "update <job_id>",
		Short: "Change a job's name or polling interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req model.UpdateJobRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("interval") {
				req.IntervalSeconds = &interval
			}
			if req.Name == nil && req.IntervalSeconds == nil {
				return fmt.Errorf("nothing to update: pass --name or --interval")
			}

			var job model.Job
			if _, err := client.getInto("PATCH", "/api/v1/jobs/"+args[0], req, &job); err != nil {
				return fmt.Errorf("update job: %w", err)
			}
			printJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	cmd.Flags().IntVar(&interval, "interval", 0, "New polling interval in seconds")
	return cmd
}

// newJobActionCmd builds pause and resume, which differ only in verb.
func newJobActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <job_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job model.Job
			if _, err := client.getInto("POST", "/api/v1/jobs/"+args[0]+"/"+action, nil, &job); err != nil {
				return fmt.Errorf("%s job: %w", action, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s\n", job.ID, job.Status)
			return nil
		},
	}
}

func newJobPauseCmd() *cobra.Command {
	return newJobActionCmd("pause", "Stop polling a job")
}

func newJobResumeCmd() *cobra.Command {
	return newJobActionCmd("resume", "Resume polling a paused job")
}

func newJobDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job_id>",
		Short: "Delete a job and its poll log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/jobs/" + args[0]); err != nil {
				return fmt.Errorf("delete job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s deleted\n", args[0])
			return nil
		},
	}
}

func newJobLogsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <job_id>",
		Short: "Show a job's poll log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/jobs/" + args[0] + "/logs"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var logs []model.PollLog
			if _, err := client.getInto("GET", path, nil, &logs); err != nil {
				return fmt.Errorf("get logs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(logs) == 0 {
				fmt.Fprintln(out, "No poll log entries.")
				return nil
			}
			for _, l := range logs {
				line := fmt.Sprintf("%s  %-16s", l.CreatedAt.Format(time.RFC3339), l.Outcome)
				if l.Detail != "" {
					line += "  " + l.Detail
				}
				if l.RunID != "" {
					line += "  run=" + l.RunID
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries (server default 50)")
	return cmd
}

func printJob(out io.Writer, j *model.Job) {
	fmt.Fprintf(out, "Job: %s\n", j.ID)
	fmt.Fprintf(out, "  Name:      %s\n", j.Name)
	fmt.Fprintf(out, "  Batch:     %s\n", j.BatchHandle)
	fmt.Fprintf(out, "  Status:    %s\n", j.Status)
	if j.TriggerPending {
		fmt.Fprintf(out, "  Trigger:   pending retry\n")
	}
	fmt.Fprintf(out, "  Interval:  %ds\n", j.IntervalSeconds)
	fmt.Fprintf(out, "  Target:    %s %s/%s\n", j.Target.StackURL, j.Target.ComponentID, j.Target.ConfigurationID)
	if j.NextCheckAt != nil {
		fmt.Fprintf(out, "  Next:      %s\n", formatTime(j.NextCheckAt))
	}
	if j.LastCheckAt != nil {
		fmt.Fprintf(out, "  Last:      %s\n", formatTime(j.LastCheckAt))
	}
	if j.RetryCount > 0 {
		fmt.Fprintf(out, "  Retries:   %d\n", j.RetryCount)
	}
	if j.LastError != "" {
		fmt.Fprintf(out, "  Error:     %s\n", j.LastError)
	}
	if j.LastRunID != "" {
		fmt.Fprintf(out, "  Run:       %s\n", j.LastRunID)
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", formatTime(j.CompletedAt))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}
