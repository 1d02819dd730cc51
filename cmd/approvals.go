package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func approvalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage pending tool approvals on a running server",
	}
	cmd.AddCommand(approvalsListCmd())
	cmd.AddCommand(approvalsApproveCmd())
	cmd.AddCommand(approvalsRejectCmd())
	cmd.AddCommand(approvalsResultCmd())
	return cmd
}

func approvalsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List requests waiting for approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := serverRequest(http.MethodGet, "/v1/pending", nil)
			if err != nil {
				return err
			}

			var resp struct {
				Pending []struct {
					RequestID string   `json:"request_id"`
					Tools     []string `json:"tools"`
					Status    string   `json:"status"`
					CreatedAt string   `json:"created_at"`
				} `json:"pending"`
				Count int `json:"count"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}

			if resp.Count == 0 {
				fmt.Println("No pending approvals.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REQUEST ID\tTOOLS\tCREATED")
			for _, p := range resp.Pending {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.RequestID, strings.Join(p.Tools, ", "), p.CreatedAt)
			}
			return w.Flush()
		},
	}
}

func approvalsApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request and execute its tools",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := serverRequest(http.MethodPost, "/v1/approve/"+args[0], nil)
			if err != nil {
				return err
			}
			return printFinalContent(args[0], "approved", body)
		},
	}
}

func approvalsRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending request without executing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := serverRequest(http.MethodPost, "/v1/reject/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("Request %s rejected.\n", args[0])
			return nil
		},
	}
}

func approvalsResultCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "result <request-id>",
		Short: "Show the stored outcome of a resolved request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := serverRequest(http.MethodGet, "/v1/result/"+args[0], nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				fmt.Println(string(body))
				return nil
			}

			var resp struct {
				RequestID string          `json:"request_id"`
				Status    string          `json:"status"`
				Result    json.RawMessage `json:"result"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Printf("Request:  %s\nStatus:   %s\n", resp.RequestID, resp.Status)
			if len(resp.Result) > 0 && string(resp.Result) != "null" {
				fmt.Printf("Result:   %s\n", resp.Result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// printFinalContent renders the assistant's final answer from an approve
// response, falling back to the raw body.
func printFinalContent(requestID, status string, body []byte) error {
	var resp struct {
		Response struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && len(resp.Response.Choices) > 0 {
		fmt.Printf("Request %s %s.\n\n%s\n", requestID, status, resp.Response.Choices[0].Message.Content)
		return nil
	}
	fmt.Println(string(body))
	return nil
}

// serverRequest performs one authenticated call against the running server.
func serverRequest(method, path string, reqBody io.Reader) ([]byte, error) {
	base, token := serverBaseURL()

	req, err := http.NewRequest(method, base+path, reqBody)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: httpClientTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s (%d)", e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return body, nil
}
