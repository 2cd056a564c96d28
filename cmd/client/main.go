// cmd/client is the CLI entry-point built with Cobra.
//
// Usage:
//
//	chatcli register alice secret             --server localhost:8081
//	chatcli login alice secret                --server localhost:8081
//	chatcli send alice bob "hi there"         --server localhost:8081
//	chatcli fetch alice                       --server localhost:8081
//	chatcli list-users                        --server localhost:8081
//	chatcli stats alice                       --server localhost:8081
//	chatcli view-count alice 5                --server localhost:8081
//	chatcli logoff alice                      --server localhost:8081
//	chatcli delete-message "hi" 2026-01-01T00:00:00Z alice bob --server localhost:8081
//	chatcli delete-user alice                 --server localhost:8081
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaychat/coordinator/internal/client"
)

var (
	serverAddr string
	timeout    time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "chatcli",
		Short: "CLI client for the chat replication service",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"localhost:8081", "chat server client address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"connection timeout")

	root.AddCommand(
		registerCmd(), loginCmd(), sendCmd(), fetchCmd(), listUsersCmd(),
		statsCmd(), viewCountCmd(), logoffCmd(), deleteMessageCmd(), deleteUserCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func dial() (*client.Client, error) {
	return client.Dial(serverAddr, timeout)
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <username> <password>",
		Short: "Create a new account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Register(args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("registered %q\n", args[0])
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Log in and print stats plus any pending messages",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			result, err := c.Login(args[0], args[1])
			if err != nil {
				return err
			}
			prettyPrint(result)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <sender> <recipient> <message>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SendMessage(args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
}

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <username>",
		Short: "Fetch a user's stored conversation, bucketed by other party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			msgs, err := c.GetMessages(args[0])
			if err != nil {
				return err
			}
			prettyPrint(msgs)
			return nil
		},
	}
}

func listUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-users",
		Short: "List every registered username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			names, err := c.GetUserList()
			if err != nil {
				return err
			}
			prettyPrint(names)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <username>",
		Short: "Print a user's view count and log-off time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			stats, err := c.GetUserStats(args[0])
			if err != nil {
				return err
			}
			prettyPrint(stats)
			return nil
		},
	}
}

func viewCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view-count <username> <count>",
		Short: "Set a user's remaining view count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var count int
			if _, err := fmt.Sscanf(args[1], "%d", &count); err != nil {
				return fmt.Errorf("invalid count %q: %w", args[1], err)
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.UpdateViewCount(args[0], count); err != nil {
				return err
			}
			fmt.Println("updated")
			return nil
		},
	}
}

func logoffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logoff <username>",
		Short: "Record the current time as a user's log-off time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.LogOff(args[0]); err != nil {
				return err
			}
			fmt.Println("logged off")
			return nil
		},
	}
}

func deleteMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-message <message> <timestamp> <sender> <receiver>",
		Short: "Delete a message matching content, sender, receiver and timestamp (±1s)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.DeleteMessage(args[0], args[1], args[2], args[3]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func deleteUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <username>",
		Short: "Delete an account and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.DeleteUser(args[0]); err != nil {
				return err
			}
			fmt.Println("deleted")
			return nil
		},
	}
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
