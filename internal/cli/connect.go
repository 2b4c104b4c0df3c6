package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var connectScopes []string

var connectCmd = &cobra.Command{
	Use:   "connect <provider>",
	Short: "Link a provider account",
	Long: `Link a mail or calendar provider account for the current user.

Examples:
  syncwell connect mail
  syncwell connect calendar --scopes events.read,events.attendees`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <provider>",
	Short: "Unlink a provider account",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisconnect,
}

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List linked provider accounts",
	RunE:  runConnections,
}

func init() {
	connectCmd.Flags().StringSliceVar(&connectScopes, "scopes", nil, "granted scopes")
}

func runConnect(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := apiClient.Connect(ctx, userID, provider, connectScopes); err != nil {
		return fmt.Errorf("connect %s: %w", provider, err)
	}

	fmt.Printf("Connected %s for user %s.\n", provider, userID)
	return nil
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	provider, err := parseProvider(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := apiClient.Disconnect(ctx, userID, provider); err != nil {
		return fmt.Errorf("disconnect %s: %w", provider, err)
	}

	fmt.Printf("Disconnected %s for user %s.\n", provider, userID)
	return nil
}

func runConnections(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	conns, err := apiClient.ListConnections(ctx, userID)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}

	if len(conns) == 0 {
		fmt.Println("No linked providers.")
		return nil
	}

	fmt.Printf("Connections (%d):\n\n", len(conns))
	for _, c := range conns {
		state := "disconnected"
		if c.Connected {
			state = "connected"
		}
		fmt.Printf("- %-10s %s", c.Provider, state)
		if len(c.Scopes) > 0 {
			fmt.Printf("  scopes: %v", c.Scopes)
		}
		fmt.Println()
		if verbose && !c.ConnectedAt.IsZero() {
			fmt.Printf("  linked at %s\n", c.ConnectedAt.Format("2006-01-02 15:04"))
		}
	}

	return nil
}
