package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"duck-sandbox/pkg/cli/client"
)

func newQueryCmd(c *client.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run structured queries through the sandbox",
	}
	cmd.AddCommand(newQueryRunCmd(c), newQueryValuesCmd(c))
	return cmd
}

// datasetResult is the part of the /dataset response the CLI renders.
type datasetResult struct {
	Data struct {
		Cols []struct {
			Name string `json:"name"`
		} `json:"cols"`
		Rows        [][]interface{} `json:"rows"`
		IsSandboxed bool            `json:"is_sandboxed"`
		NativeForm  struct {
			Query string `json:"query"`
		} `json:"native_form"`
	} `json:"data"`
	RowCount int `json:"row_count"`
}

func newQueryRunCmd(c *client.Client) *cobra.Command {
	var (
		file    string
		card    string
		showSQL bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a structured query or a saved card",
		Example: `  # Run a query from a file ("-" reads stdin)
  echo '{"source_table":"PRODUCTS","fields":[{"name":"CATEGORY"}]}' | duck-sandbox query run --file -

  # Run a saved question
  duck-sandbox query run --card $CARD`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]interface{}{}
			switch {
			case file != "" && card != "":
				return errors.New("use either --file or --card, not both")
			case card != "":
				body["card_id"] = card
			case file != "":
				q, err := readQuery(cmd, file)
				if err != nil {
					return err
				}
				body["query"] = q
			default:
				return errors.New("one of --file or --card is required")
			}

			resp, err := c.Do(http.MethodPost, "/dataset", nil, body)
			if err != nil {
				return err
			}
			if err := client.CheckError(resp); err != nil {
				return err
			}
			raw, err := client.ReadBody(resp)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				var v interface{}
				if err := json.Unmarshal(raw, &v); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
				return client.PrintJSON(cmd.OutOrStdout(), v)
			}

			var res datasetResult
			if err := json.Unmarshal(raw, &res); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			printDataset(cmd, res, showSQL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `JSON query file, or "-" for stdin`)
	cmd.Flags().StringVar(&card, "card", "", "ID of a saved question or model")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the executed SQL")
	return cmd
}

func printDataset(cmd *cobra.Command, res datasetResult, showSQL bool) {
	columns := make([]string, len(res.Data.Cols))
	for i, col := range res.Data.Cols {
		columns[i] = col.Name
	}
	rows := make([][]string, len(res.Data.Rows))
	for i, row := range res.Data.Rows {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = client.FormatValue(v)
		}
	}
	client.PrintTable(cmd.OutOrStdout(), columns, rows)

	if isQuiet(cmd) {
		return
	}
	errOut := cmd.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "%d row(s)", res.RowCount)
	if res.Data.IsSandboxed {
		_, _ = fmt.Fprint(errOut, ", restricted by sandbox policy")
	}
	_, _ = fmt.Fprintln(errOut)
	if showSQL {
		_, _ = fmt.Fprintln(errOut, res.Data.NativeForm.Query)
	}
}

// readQuery loads a JSON query from path, or stdin for "-".
func readQuery(cmd *cobra.Command, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read query: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("read query: %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

func newQueryValuesCmd(c *client.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "values <field-id>...",
		Short: "List the distinct values of fields visible to the caller",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res map[string]interface{}
			if err := c.DoJSON(http.MethodPost, "/dataset/parameter/values", nil, map[string]interface{}{
				"field_ids": args,
			}, &res); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return client.PrintJSON(cmd.OutOrStdout(), res)
			}
			values, _ := res["values"].([]interface{})
			rows := make([][]string, 0, len(values))
			for _, v := range values {
				tuple, _ := v.([]interface{})
				if len(tuple) == 0 {
					continue
				}
				rows = append(rows, []string{client.FormatValue(tuple[0])})
			}
			client.PrintTable(cmd.OutOrStdout(), []string{"value"}, rows)
			return nil
		},
	}
}
