package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/moodcycle-gateway/internal/client/session"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
)

var (
	loginUsername string
	loginPassword string

	chatPersona string
	chatDevice  string
	chatPhase   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open an admin session",
	Long: `Authenticate against the gateway and store the session.

The password is read from --password or MOODCTL_PASSWORD.`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the stored session",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE:  runStatus,
}

var getCmd = &cobra.Command{
	Use:   "get <endpoint>",
	Short: "GET an endpoint with the stored session",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one chat message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChat,
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", envOr("MOODCTL_USERNAME", ""), "Admin username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Admin password")

	chatCmd.Flags().StringVar(&chatPersona, "persona", "emma", "Persona to talk to")
	chatCmd.Flags().StringVar(&chatDevice, "device", envOr("MOODCTL_DEVICE_ID", defaultDeviceID()), "Device identifier")
	chatCmd.Flags().StringVar(&chatPhase, "phase", "", "Current cycle phase")
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c, err := openClient(ctx, cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func runLogin(cmd *cobra.Command, _ []string) error {
	password := loginPassword
	if password == "" {
		password = os.Getenv("MOODCTL_PASSWORD")
	}
	if strings.TrimSpace(loginUsername) == "" || password == "" {
		return errors.New("username and password are required")
	}

	return withClient(cmd, func(ctx context.Context, c *client) error {
		user, err := c.manager.Login(ctx, c.gateway, loginUsername, password)
		switch {
		case errors.Is(err, session.ErrAlreadyAuthenticated):
			snap := c.manager.Snapshot()
			return fmt.Errorf("already logged in as %s, run 'moodctl logout' first", snap.User.DisplayName)
		case errors.Is(err, session.ErrUnauthorized):
			return errors.New("identifiants invalides")
		case err != nil:
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connecté en tant que %s (%s)\n", user.DisplayName, user.Role)
		return nil
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *client) error {
		if c.manager.State() != session.StateAuthenticated {
			fmt.Fprintln(cmd.OutOrStdout(), "Aucune session active")
			return nil
		}
		return c.manager.Logout(ctx)
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(_ context.Context, c *client) error {
		snap := c.manager.Snapshot()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "server: %s\nstate:  %s\n", serverURL, snap.State)
		if snap.State == session.StateAuthenticated {
			fmt.Fprintf(out, "user:   %s (%s, %s)\n", snap.User.DisplayName, snap.User.Username, snap.User.Role)
		}
		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client) error {
		raw, err := c.gateway.Call(ctx, normalizeEndpoint(args[0]), session.CallOptions{Method: http.MethodGet})
		if err != nil {
			return err
		}
		return printJSON(cmd, raw)
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	req := chat.Request{
		Message: strings.Join(args, " "),
		Context: chat.Context{Persona: chatPersona, CurrentPhase: chatPhase},
	}

	return withClient(cmd, func(ctx context.Context, c *client) error {
		raw, err := c.gateway.Call(ctx, "/chat", session.CallOptions{
			Method: http.MethodPost,
			Body:   req,
			Header: http.Header{"X-Device-ID": []string{chatDevice}},
		})
		if session.RateLimited(err) {
			return errors.New("trop de messages, réessayez dans une minute")
		}
		if err != nil {
			return err
		}

		var resp struct {
			Response string `json:"response"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Response == "" {
			return printJSON(cmd, raw)
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
		return nil
	})
}

func normalizeEndpoint(endpoint string) string {
	if !strings.HasPrefix(endpoint, "/") {
		return "/" + endpoint
	}
	return endpoint
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	if raw == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "moodctl"
	}
	return "moodctl-" + host
}
