package app

import (
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/rwa-orchestrator/internal/ledger"
)

type ledgerView struct {
	Owner       string                     `json:"owner"`
	Investments []ledger.Investment        `json:"investments"`
	RentToOwn   []ledger.RentToOwnProgress `json:"rent_to_own"`
}

func (s *runtimeState) newLedgerCommand() *cobra.Command {
	root := &cobra.Command{Use: "ledger", Short: "Local record of confirmed investments and rent-to-own schedules"}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show investment totals and rent-to-own progress for the owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner, err := s.ownerAddress()
			if err != nil {
				return err
			}
			book, err := s.ledgerBook(cmd.Context())
			if err != nil {
				return err
			}
			investments, err := book.Investments(cmd.Context(), owner)
			if err != nil {
				return err
			}
			rto, err := book.RentToOwn(cmd.Context(), owner)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), ledgerView{Owner: owner, Investments: investments, RentToOwn: rto}, nil)
		},
	}

	root.AddCommand(showCmd)
	return root
}
