package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/rwa-orchestrator/internal/friends"
)

type resolvedFriend struct {
	Owner   string `json:"owner"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s *runtimeState) newFriendsCommand() *cobra.Command {
	root := &cobra.Command{Use: "friends", Short: "Friend directory lookups"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's friends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := s.ownerAddress()
			if err != nil {
				return err
			}
			client, err := s.friendsClient()
			if err != nil {
				return err
			}
			ctx, cancel := s.withTimeout(cmd.Context())
			defer cancel()
			items, err := client.List(ctx, owner)
			if err != nil {
				return err
			}
			if items == nil {
				items = []friends.Friend{}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}

	var refresh bool
	resolveCmd := &cobra.Command{
		Use:   "resolve <name-or-address>",
		Short: "Resolve a friend name to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := s.ownerAddress()
			if err != nil {
				return err
			}
			client, err := s.friendsClient()
			if err != nil {
				return err
			}
			ctx, cancel := s.withTimeout(cmd.Context())
			defer cancel()
			resolve := client.Resolve
			if refresh {
				resolve = client.Refresh
			}
			addr, err := resolve(ctx, owner, args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), resolvedFriend{Owner: owner, Name: args[0], Address: addr.Hex()}, nil)
		},
	}

	resolveCmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore any cached address and ask the directory again")

	root.AddCommand(listCmd)
	root.AddCommand(resolveCmd)
	return root
}
