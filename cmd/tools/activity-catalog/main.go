// cmd/tools/activity-catalog/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"ledger-query-workers/pkg/registry"
)

const defaultPath = "pkg/registry/activities.json"

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to the activity catalog")

	switch os.Args[1] {
	case "validate":
		fs.Parse(os.Args[2:])
		reg, err := registry.LoadRegistry(*path)
		if err != nil {
			fmt.Printf("Catalog validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Catalog validation passed. Found %d activities.\n", len(reg.Activities))

	case "list":
		fs.Parse(os.Args[2:])
		reg, err := registry.LoadRegistry(*path)
		if err != nil {
			fmt.Printf("Error loading catalog: %v\n", err)
			os.Exit(1)
		}
		list(reg)

	case "schema":
		taskType := fs.String("taskType", "", "Task type whose input schema is printed")
		fs.Parse(os.Args[2:])
		if *taskType == "" {
			fmt.Println("Error: taskType is required for schema.")
			fs.Usage()
			os.Exit(1)
		}
		if err := printSchema(*path, *taskType); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

	case "update":
		taskType := fs.String("taskType", "", "Task type to update")
		field := fs.String("field", "", "Field to update (status, version, timeout, retries)")
		value := fs.String("value", "", "New value for the field")
		fs.Parse(os.Args[2:])
		if *taskType == "" || *field == "" || *value == "" {
			fmt.Println("Error: taskType, field, and value are required for update.")
			fs.Usage()
			os.Exit(1)
		}
		if err := update(*path, *taskType, *field, *value); err != nil {
			fmt.Printf("Error updating activity: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated %s, field %s to %s\n", *taskType, *field, *value)

	default:
		help()
	}
}

func list(reg *registry.ActivityRegistry) {
	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].TaskType < activities[j].TaskType })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK TYPE\tVERSION\tTIMEOUT\tRETRIES\tSTATUS\tERROR CODES")
	for _, a := range activities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\n", a.TaskType, a.Version, a.Timeout, a.Retries, a.ImplementationStatus, len(a.ErrorCodes))
	}
	w.Flush()
}

func printSchema(path, taskType string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	a, ok := reg.Find(taskType)
	if !ok {
		return fmt.Errorf("no activity with task type %s", taskType)
	}
	data, err := json.MarshalIndent(a.InputSchema, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// update edits one field and saves only if the result still validates.
func update(path, taskType, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	var target *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].TaskType == taskType {
			target = &reg.Activities[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("activity with task type %s not found", taskType)
	}

	switch field {
	case "status":
		target.ImplementationStatus = value
	case "version":
		target.Version = value
	case "timeout":
		target.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		target.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	if err := reg.Validate(); err != nil {
		return fmt.Errorf("update would leave the catalog invalid: %w", err)
	}
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func help() {
	fmt.Print(`
Usage: activity-catalog <command> [flags]

Commands:
  validate  Validate the catalog, including every input and output schema
  list      List the activities
  schema    Print the input schema of one task type
  update    Update an activity's status, version, timeout or retries

Examples:
  activity-catalog validate
  activity-catalog schema -taskType retrieve-ledger-rows
  activity-catalog update -taskType retrieve-ledger-rows -field timeout -value 20m

Use 'activity-catalog <command> -h' for more information about a command.
` + "\n")
}
