package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/tui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a task from a YAML or JSON file",
	RunE:  runTaskCreate,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskGetCmd = &cobra.Command{
	Use:   "get [task-id]",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskGet,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskEventsCmd = &cobra.Command{
	Use:   "events [task-id]",
	Short: "Show the audit trail of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEvents,
}

var (
	taskFile      string
	listState     string
	listProject   string
	listName      string
	listPageSize  int
	listPageToken string
	listAll       bool
	taskView      string
)

func init() {
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskGetCmd, taskCancelCmd, taskEventsCmd)

	taskCreateCmd.Flags().StringVarP(&taskFile, "file", "f", "", "Task document, '-' for stdin (required)")
	taskCreateCmd.MarkFlagRequired("file")

	taskListCmd.Flags().StringVar(&listState, "state", "", "Filter by state (QUEUED, RUNNING, COMPLETE, ...)")
	taskListCmd.Flags().StringVar(&listProject, "project", "", "Filter by project")
	taskListCmd.Flags().StringVar(&listName, "name", "", "Filter by name prefix")
	taskListCmd.Flags().IntVar(&listPageSize, "page-size", 0, "Tasks per page (server default when 0)")
	taskListCmd.Flags().StringVar(&listPageToken, "page-token", "", "Resume a previous listing")
	taskListCmd.Flags().BoolVar(&listAll, "all", false, "Follow page tokens until the listing is exhausted")

	taskGetCmd.Flags().StringVar(&taskView, "view", string(models.ViewFull), "MINIMAL, BASIC or FULL")
}

// readTaskFile decodes a task document. YAML is a superset of JSON, so both
// are accepted; the generic tree is re-encoded as JSON to reuse the API's
// field names.
func readTaskFile(r io.Reader) (*models.Task, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse task document: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode task document: %w", err)
	}
	var task models.Task
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&task); err != nil {
		return nil, fmt.Errorf("decode task document: %w", err)
	}
	return &task, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if taskFile != "-" {
		f, err := os.Open(taskFile)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	task, err := readTaskFile(r)
	if err != nil {
		return err
	}
	id, err := apiClient().CreateTask(task)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task: %s\n", id)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	client := apiClient()
	opts := tui.ListOptions{
		State:      models.State(strings.ToUpper(listState)),
		Project:    listProject,
		NamePrefix: listName,
		PageSize:   listPageSize,
		PageToken:  listPageToken,
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tNAME\tPROJECT\tCREATED")
	total := 0
	for {
		resp, err := client.ListTasks(opts)
		if err != nil {
			return err
		}
		for _, t := range resp.Tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.State, truncate(t.Name, 40), t.Project, t.CreationTime)
		}
		total += len(resp.Tasks)
		if resp.NextPageToken == "" {
			break
		}
		if !listAll {
			w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "\nNext page: --page-token %s\n", resp.NextPageToken)
			return nil
		}
		opts.PageToken = resp.NextPageToken
	}
	if total == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks found")
		return nil
	}
	return w.Flush()
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	view := models.View(strings.ToUpper(taskView))
	client := apiClient()

	var (
		task *models.Task
		err  error
	)
	if view == models.ViewFull {
		task, err = client.GetTask(args[0])
	} else {
		task, err = client.GetTaskView(args[0], view)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(task)
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	if err := apiClient().CancelTask(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %s\n", args[0])
	return nil
}

func runTaskEvents(cmd *cobra.Command, args []string) error {
	events, err := apiClient().ListEvents(args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tFROM\tTO\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp, e.Action, e.FromState, e.ToState, truncate(e.Detail, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
