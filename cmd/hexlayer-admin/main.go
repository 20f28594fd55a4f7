// ABOUTME: Operator CLI for the hexlayer console HTTP API
// ABOUTME: Manages orgs, users, pages, facets, audit, and chain usage over HTTPS with a JWT

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

const banner = `
 _               _
| |__   _____  _| | __ _ _   _  ___ _ __
| '_ \ / _ \ \/ / |/ _' | | | |/ _ \ '__|
| | | |  __/>  <| | (_| | |_| |  __/ |
|_| |_|\___/_/\_\_|\__,_|\__, |\___|_|
                         |___/  admin
`

// adminConfig is read from ~/.config/hexlayer/admin.toml.
// Environment variables HEXLAYER_URL, HEXLAYER_TOKEN, and HEXLAYER_ORG
// override individual fields.
type adminConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
	Org   string `toml:"org"`
}

func loadConfig() *adminConfig {
	cfg := &adminConfig{URL: "http://localhost:8080"}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configDir = filepath.Join(homeDir, ".config")
		}
	}
	if configDir != "" {
		path := filepath.Join(configDir, "hexlayer", "admin.toml")
		_, _ = toml.DecodeFile(path, cfg) // missing file is fine

		if cfg.Token == "" {
			if data, err := os.ReadFile(filepath.Join(configDir, "hexlayer", "token")); err == nil {
				cfg.Token = strings.TrimSpace(string(data))
			}
		}
	}

	if v := os.Getenv("HEXLAYER_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("HEXLAYER_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("HEXLAYER_ORG"); v != "" {
		cfg.Org = v
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")

	return cfg
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := loadConfig()
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(cfg)
	case "org":
		err = cmdOrg(cfg, args)
	case "users":
		err = cmdUsers(cfg, args)
	case "pages":
		err = cmdPages(cfg, args)
	case "facets":
		err = cmdFacets(cfg, args)
	case "audit":
		err = cmdAudit(cfg, args)
	case "usage":
		err = cmdUsage(cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: hexlayer-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                      Show console reachability and your org")
	fmt.Println("  org show                    Show the configured organization")
	fmt.Println("  org create                  Create an organization (--slug, --name, --email, --password)")
	fmt.Println("  org suspend                 Suspend the organization")
	fmt.Println("  org reactivate              Reactivate a suspended organization")
	fmt.Println("  users                       List organization users")
	fmt.Println("  users invite <email>        Invite a user (--role member|admin|owner)")
	fmt.Println("  users disable <user-id>     Disable a user")
	fmt.Println("  users enable <user-id>      Re-enable a user")
	fmt.Println("  pages                       List content pages (--status draft|published|archived)")
	fmt.Println("  pages publish <page-id>     Publish a page")
	fmt.Println("  facets                      List facet definitions")
	fmt.Println("  audit [--limit N]           Show recent audit entries")
	fmt.Println("  usage                       Show chain proxy usage for the last 30 days")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HEXLAYER_URL     Console base URL (default: http://localhost:8080)")
	fmt.Println("  HEXLAYER_TOKEN   JWT authentication token")
	fmt.Println("  HEXLAYER_ORG     Organization ID")
	fmt.Println()
	yellow.Println("Config file (~/.config/hexlayer/admin.toml):")
	fmt.Println("  url = \"https://console.example.com\"")
	fmt.Println("  token = \"eyJhbG...\"")
	fmt.Println("  org = \"org-id\"")
	fmt.Println()
}

// apiError mirrors the console error envelope.
type apiError struct {
	Error string `json:"error"`
}

// call performs an authenticated request and decodes the JSON response into out.
func call(cfg *adminConfig, method, path string, body, out any) error {
	if cfg.Token == "" {
		return fmt.Errorf("no token: set HEXLAYER_TOKEN or run hexlayer-console bootstrap")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL+path, reqBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// orgPath prefixes an org-scoped API path with the configured org ID.
func orgPath(cfg *adminConfig, suffix string) (string, error) {
	if cfg.Org == "" {
		return "", fmt.Errorf("no organization configured: set HEXLAYER_ORG or org in admin.toml")
	}
	return "/api/orgs/" + cfg.Org + suffix, nil
}

type orgInfo struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Plan      string    `json:"plan"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func cmdStatus(cfg *adminConfig) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		yellow.Printf("  Console:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}
	resp.Body.Close()

	green.Printf("  Console:  ")
	fmt.Printf("connected to %s\n", cfg.URL)

	if cfg.Token == "" || cfg.Org == "" {
		yellow.Printf("  Org:      ")
		fmt.Println("(not configured - set HEXLAYER_TOKEN and HEXLAYER_ORG)")
		fmt.Println()
		return nil
	}

	path, err := orgPath(cfg, "")
	if err != nil {
		return err
	}
	var org orgInfo
	if err := call(cfg, http.MethodGet, path, nil, &org); err != nil {
		yellow.Printf("  Org:      ")
		color.Red("auth failed (%v)\n", err)
	} else {
		green.Printf("  Org:      ")
		fmt.Printf("%s (%s)\n", org.Name, org.Slug)
		green.Printf("  Plan:     ")
		fmt.Println(org.Plan)
		green.Printf("  Status:   ")
		fmt.Println(org.Status)
	}

	fmt.Println()
	return nil
}

func cmdOrg(cfg *adminConfig, args []string) error {
	subcmd := "show"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	if subcmd == "create" {
		return cmdOrgCreate(cfg, args)
	}

	path, err := orgPath(cfg, "")
	if err != nil {
		return err
	}

	switch subcmd {
	case "show":
		var org orgInfo
		if err := call(cfg, http.MethodGet, path, nil, &org); err != nil {
			return err
		}
		cyan := color.New(color.FgCyan)
		fmt.Println()
		cyan.Println("  Organization")
		cyan.Println("  ------------")
		fmt.Printf("  ID:       %s\n", org.ID)
		fmt.Printf("  Slug:     %s\n", org.Slug)
		fmt.Printf("  Name:     %s\n", org.Name)
		fmt.Printf("  Plan:     %s\n", org.Plan)
		fmt.Printf("  Status:   %s\n", org.Status)
		fmt.Printf("  Created:  %s\n", org.CreatedAt.Format("Jan 02, 2006"))
		fmt.Println()
		return nil
	case "suspend":
		if err := call(cfg, http.MethodPost, path+"/suspend", nil, nil); err != nil {
			return err
		}
		color.New(color.FgYellow).Printf("✓ Suspended organization: %s\n", cfg.Org)
		return nil
	case "reactivate":
		if err := call(cfg, http.MethodPost, path+"/reactivate", nil, nil); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✓ Reactivated organization: %s\n", cfg.Org)
		return nil
	default:
		return fmt.Errorf("unknown org subcommand: %s (use show, create, suspend, reactivate)", subcmd)
	}
}

// cmdOrgCreate signs up a new organization with its first owner. This hits
// the unauthenticated signup endpoint, so no token is required.
func cmdOrgCreate(cfg *adminConfig, args []string) error {
	var slug, name, email, password string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--slug", "-s":
			if i+1 < len(args) {
				slug = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "--email", "-e":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--password", "-p":
			if i+1 < len(args) {
				password = args[i+1]
				i++
			}
		}
	}

	if slug == "" || email == "" || password == "" {
		return fmt.Errorf("usage: org create --slug <slug> --email <owner-email> --password <owner-password> [--name <name>]")
	}
	if name == "" {
		name = slug
	}

	body, err := json.Marshal(map[string]string{
		"slug":           slug,
		"name":           name,
		"owner_email":    email,
		"owner_password": password,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL+"/api/orgs", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var created struct {
		Org   orgInfo  `json:"org"`
		Owner userInfo `json:"owner"`
		Token string   `json:"token"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Printf("✓ Created organization: %s\n", created.Org.Slug)
	fmt.Printf("  Org ID:  %s\n", created.Org.ID)
	fmt.Printf("  Owner:   %s\n", created.Owner.Email)
	fmt.Println()
	cyan.Println("  Owner token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + created.Token)
	fmt.Println()
	fmt.Println("  Add to ~/.config/hexlayer/admin.toml:")
	fmt.Printf("    org = %q\n", created.Org.ID)

	return nil
}

type userInfo struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func cmdUsers(cfg *adminConfig, args []string) error {
	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdUsersList(cfg)
	case "invite":
		return cmdUsersInvite(cfg, args)
	case "disable":
		return cmdUsersSetStatus(cfg, args, "disable")
	case "enable":
		return cmdUsersSetStatus(cfg, args, "enable")
	default:
		return fmt.Errorf("unknown users subcommand: %s (use list, invite, disable, enable)", subcmd)
	}
}

func cmdUsersList(cfg *adminConfig) error {
	path, err := orgPath(cfg, "/users")
	if err != nil {
		return err
	}

	var users []userInfo
	if err := call(cfg, http.MethodGet, path, nil, &users); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Users")
	cyan.Println("  -----")

	if len(users) == 0 {
		fmt.Println("  (no users)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tEMAIL\tROLE\tSTATUS\tCREATED")
	fmt.Fprintln(w, "  --\t-----\t----\t------\t-------")
	for _, u := range users {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(u.ID, 12), truncate(u.Email, 32), u.Role, u.Status,
			u.CreatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdUsersInvite(cfg *adminConfig, args []string) error {
	var email, role string
	role = "member"

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--role", args[i] == "-r":
			if i+1 < len(args) {
				role = args[i+1]
				i++
			}
		case strings.HasPrefix(args[i], "--"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			email = args[i]
		}
	}

	if email == "" {
		return fmt.Errorf("usage: users invite <email> [--role member|admin|owner]")
	}

	path, err := orgPath(cfg, "/users/invite")
	if err != nil {
		return err
	}

	var resp struct {
		InviteID  string    `json:"invite_id"`
		Email     string    `json:"email"`
		Role      string    `json:"role"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	body := map[string]string{"email": email, "role": role}
	if err := call(cfg, http.MethodPost, path, body, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Invited %s as %s\n", resp.Email, resp.Role)
	fmt.Printf("  Invite ID:  %s\n", resp.InviteID)
	fmt.Printf("  Expires:    %s\n", resp.ExpiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Redeem with: POST /api/auth/accept-invite {\"invite_id\": \"...\", \"password\": \"...\"}")

	return nil
}

func cmdUsersSetStatus(cfg *adminConfig, args []string, action string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: users %s <user-id>", action)
	}

	path, err := orgPath(cfg, "/users/"+args[0]+"/"+action)
	if err != nil {
		return err
	}
	if err := call(cfg, http.MethodPost, path, nil, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ User %sd: %s\n", action, args[0])
	return nil
}

type pageInfo struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func cmdPages(cfg *adminConfig, args []string) error {
	if len(args) > 0 && args[0] == "publish" {
		if len(args) < 2 {
			return fmt.Errorf("usage: pages publish <page-id>")
		}
		path, err := orgPath(cfg, "/pages/"+args[1]+"/publish")
		if err != nil {
			return err
		}
		var page pageInfo
		if err := call(cfg, http.MethodPost, path, nil, &page); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("✓ Published page: %s (%s)\n", page.Slug, page.ID)
		return nil
	}

	var statusFilter string
	for i := 0; i < len(args); i++ {
		if (args[i] == "--status" || args[i] == "-s") && i+1 < len(args) {
			statusFilter = args[i+1]
			i++
		}
	}

	suffix := "/pages"
	if statusFilter != "" {
		suffix += "?status=" + statusFilter
	}
	path, err := orgPath(cfg, suffix)
	if err != nil {
		return err
	}

	var pages []pageInfo
	if err := call(cfg, http.MethodGet, path, nil, &pages); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Pages")
	cyan.Println("  -----")

	if len(pages) == 0 {
		fmt.Println("  (no pages)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tSLUG\tTITLE\tSTATUS\tUPDATED")
	fmt.Fprintln(w, "  --\t----\t-----\t------\t-------")
	for _, p := range pages {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			truncate(p.ID, 12), truncate(p.Slug, 24), truncate(p.Title, 32), p.Status,
			p.UpdatedAt.Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

type facetInfo struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	ContractAddress string   `json:"contract_address"`
	Selectors       []string `json:"selectors"`
	Version         int      `json:"version"`
}

func cmdFacets(cfg *adminConfig, args []string) error {
	path, err := orgPath(cfg, "/facets")
	if err != nil {
		return err
	}

	var facets []facetInfo
	if err := call(cfg, http.MethodGet, path, nil, &facets); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Facets")
	cyan.Println("  ------")

	if len(facets) == 0 {
		fmt.Println("  (no facets)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tADDRESS\tSELECTORS\tVERSION")
	fmt.Fprintln(w, "  --\t----\t-------\t---------\t-------")
	for _, f := range facets {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%d\n",
			truncate(f.ID, 12), truncate(f.Name, 24), truncate(f.ContractAddress, 16),
			len(f.Selectors), f.Version)
	}
	w.Flush()
	fmt.Println()

	return nil
}

type auditEntry struct {
	ActorUserID string    `json:"actor_user_id"`
	Action      string    `json:"action"`
	TargetType  string    `json:"target_type"`
	TargetID    string    `json:"target_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func cmdAudit(cfg *adminConfig, args []string) error {
	limit := "25"
	for i := 0; i < len(args); i++ {
		if (args[i] == "--limit" || args[i] == "-n") && i+1 < len(args) {
			limit = args[i+1]
			i++
		}
	}

	path, err := orgPath(cfg, "/audit?limit="+limit)
	if err != nil {
		return err
	}

	var entries []auditEntry
	if err := call(cfg, http.MethodGet, path, nil, &entries); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")

	if len(entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTOR\tACTION\tTARGET")
	fmt.Fprintln(w, "  ----\t-----\t------\t------")
	for _, e := range entries {
		target := e.TargetType
		if e.TargetID != "" {
			target += "/" + truncate(e.TargetID, 12)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n",
			e.Timestamp.Format("Jan 02 15:04:05"), truncate(e.ActorUserID, 16), e.Action, target)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdUsage(cfg *adminConfig) error {
	path, err := orgPath(cfg, "/reports/chain-usage")
	if err != nil {
		return err
	}

	var report struct {
		Since        time.Time        `json:"since"`
		Until        time.Time        `json:"until"`
		RequestCount int64            `json:"request_count"`
		ErrorCount   int64            `json:"error_count"`
		ErrorRate    float64          `json:"error_rate"`
		ByMethod     map[string]int64 `json:"by_method"`
	}
	if err := call(cfg, http.MethodGet, path, nil, &report); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Chain Usage")
	cyan.Println("  -----------")
	fmt.Printf("  Window:    %s to %s\n",
		report.Since.Format("Jan 02"), report.Until.Format("Jan 02, 2006"))
	fmt.Printf("  Requests:  %d\n", report.RequestCount)
	fmt.Printf("  Errors:    %d (%.1f%%)\n", report.ErrorCount, report.ErrorRate*100)

	if len(report.ByMethod) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  METHOD\tCOUNT")
		fmt.Fprintln(w, "  ------\t-----")
		for method, count := range report.ByMethod {
			fmt.Fprintf(w, "  %s\t%d\n", method, count)
		}
		w.Flush()
	}
	fmt.Println()

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
