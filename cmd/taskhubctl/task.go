package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskhub/pkg/client"
)

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskAddCmd())
	cmd.AddCommand(taskDoneCmd())
	cmd.AddCommand(taskReopenCmd())
	cmd.AddCommand(taskAssignCmd())
	cmd.AddCommand(taskDueCmd())
	cmd.AddCommand(taskRmCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			tasks, err := c.Tasks(cmd.Context())
			if err != nil {
				return err
			}
			if activeOnly, _ := cmd.Flags().GetBool("active"); activeOnly {
				open := tasks[:0]
				for _, t := range tasks {
					if !t.Completed {
						open = append(open, t)
					}
				}
				tasks = open
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(tasks)
			}
			printTaskTable(tasks)
			return nil
		},
	}
	cmd.Flags().Bool("active", false, "Hide completed tasks")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func taskAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [title...]",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			date, _ := cmd.Flags().GetString("due-date")
			clock, _ := cmd.Flags().GetString("due-time")
			due, err := parseDueFlags(date, clock)
			if err != nil {
				return err
			}
			var assignee *string
			if a, _ := cmd.Flags().GetString("assign"); a != "" {
				assignee = &a
			}
			task, err := c.CreateTask(cmd.Context(), strings.Join(args, " "), assignee, due)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s: %s\n", task.ID, task.Title)
			return nil
		},
	}
	cmd.Flags().String("assign", "", "User ID to assign the task to")
	cmd.Flags().String("due-date", "", "Due date (2006-01-02)")
	cmd.Flags().String("due-time", "", "Due time (15:04), midnight when omitted")
	return cmd
}

func taskDoneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done [task-id]",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			task, err := c.SetCompleted(cmd.Context(), args[0], true)
			if err != nil {
				return err
			}
			fmt.Printf("Completed: %s\n", task.Title)
			return nil
		},
	}
}

func taskReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen [task-id]",
		Short: "Reopen a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			task, err := c.SetCompleted(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			fmt.Printf("Reopened: %s\n", task.Title)
			return nil
		},
	}
}

func taskAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign [task-id] [user-id]",
		Short: "Assign a task; omit the user ID to unassign",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var assignee *string
			if len(args) == 2 && args[1] != "" {
				assignee = &args[1]
			}
			task, err := c.SetAssignee(cmd.Context(), args[0], assignee)
			if err != nil {
				return err
			}
			if task.AssignedUsername != nil {
				fmt.Printf("Assigned %s to %s\n", task.Title, *task.AssignedUsername)
			} else {
				fmt.Printf("Unassigned %s\n", task.Title)
			}
			return nil
		},
	}
}

func taskDueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due [task-id] [date] [time]",
		Short: "Set a due date; omit the date to clear it",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var date, clock string
			if len(args) > 1 {
				date = args[1]
			}
			if len(args) > 2 {
				clock = args[2]
			}
			due, err := parseDueFlags(date, clock)
			if err != nil {
				return err
			}
			task, err := c.SetDueDate(cmd.Context(), args[0], due)
			if err != nil {
				return err
			}
			if task.DueDate != nil {
				fmt.Printf("%s due %s\n", task.Title, task.DueDate.Local().Format("2006-01-02 15:04"))
			} else {
				fmt.Printf("%s has no due date\n", task.Title)
			}
			return nil
		},
	}
}

func taskRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [task-id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := apiClient(cmd)
			if err != nil {
				return err
			}
			if err := c.DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("Deleted")
			return nil
		},
	}
}

// parseDueFlags turns the date and time inputs into a due timestamp,
// rejecting garbage instead of silently clearing the date.
func parseDueFlags(date, clock string) (*time.Time, error) {
	due := client.CombineDueDate(date, clock)
	if due == nil && strings.TrimSpace(date) != "" {
		return nil, fmt.Errorf("invalid due date %q (want 2006-01-02 [15:04])", strings.TrimSpace(date))
	}
	return due, nil
}

func printTaskTable(tasks []client.Task) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tTITLE\tASSIGNEE\tDUE")
	for _, t := range tasks {
		state := "open"
		if t.Completed {
			state = "done"
		}
		assignee := "-"
		if t.AssignedUsername != nil {
			assignee = *t.AssignedUsername
		}
		due := "-"
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, state, t.Title, assignee, due)
	}
	w.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
