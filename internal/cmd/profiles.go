package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/panehost/internal/ipc"
	"github.com/Iron-Ham/panehost/internal/profile"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Inspect and open profile windows on a running server",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles with an open window",
	Long: `List profiles that currently have an open window, most recently
focused first.`,
	Args: cobra.NoArgs,
	RunE: runProfilesList,
}

var profilesOpenCmd = &cobra.Command{
	Use:   "open <profile-id>",
	Short: "Open a profile's window, or focus it if already open",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesOpen,
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesOpenCmd)
	profilesCmd.PersistentFlags().String("addr", "", "server address (default is server.listen)")
}

// serverURL returns the base URL of the running server.
func serverURL(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	return "http://" + addr
}

func runProfilesList(cmd *cobra.Command, _ []string) error {
	resp, err := httpClient.Get(serverURL(cmd) + "/profiles")
	if err != nil {
		return fmt.Errorf("is panehost serve running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return err
	}

	var entries []profile.Entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode profiles: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No open profiles."))
		return nil
	}

	t := &table{headers: []string{"PROFILE", "WINDOW", "LAST FOCUSED"}}
	for _, e := range entries {
		t.add(e.ProfileID, e.WindowID, e.LastFocusedAt.Local().Format(time.DateTime))
	}
	t.render(out)
	return nil
}

func runProfilesOpen(cmd *cobra.Command, args []string) error {
	endpoint := serverURL(cmd) + "/profiles/" + url.PathEscape(args[0]) + "/open"
	resp, err := httpClient.Post(endpoint, "application/json", nil)
	if err != nil {
		return fmt.Errorf("is panehost serve running? %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := checkStatus(resp); err != nil {
		return err
	}

	var result ipc.OpenResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	out := cmd.OutOrStdout()
	if isTerminal(out) {
		fmt.Fprintf(out, "%s %s\n", okStyle.Render("Profile "+args[0]+" window:"), result.WindowID)
		return nil
	}
	fmt.Fprintln(out, result.WindowID)
	return nil
}

// checkStatus turns a non-2xx response into an error carrying the server's
// error body when there is one.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body ipc.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("server returned %s: %s: %s", resp.Status, body.Kind, body.Message)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
