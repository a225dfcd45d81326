package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/peertrust/internal/key"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/store"
	"github.com/nhle/peertrust/internal/theme"
)

func peerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peer <addr>",
		Short: "Show the keys and verification state of a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			ps, err := peerstate.LoadByAddr(cmd.Context(), a.Node.Mailbox, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("nothing known about %s", args[0])
			}
			if err != nil {
				return err
			}
			printPeerstate(cmd.OutOrStdout(), ps)
			return nil
		},
	}
}

func printPeerstate(w io.Writer, ps *peerstate.Peerstate) {
	row := func(label, value string) {
		fmt.Fprintln(w, theme.LabelStyle.Render(label)+value)
	}
	when := func(ts int64) string {
		if ts == 0 {
			return "never"
		}
		return time.Unix(ts, 0).Format(time.RFC3339)
	}

	level := ps.VerifiedLevel()
	row("Address", ps.Addr)
	row("Verified", theme.VerifiedStyle(int(level)).Render(level.String()))
	row("Prefer encrypt", ps.PreferEncrypt.String())
	row("Last seen", when(ps.LastSeen))
	row("Last seen Autocrypt", when(ps.LastSeenAutocrypt))
	if ps.PublicKeyFingerprint != "" {
		row("Public key", key.FormatFingerprint(ps.PublicKeyFingerprint))
		row("  verified", ps.PublicKeyVerified.String())
	}
	if ps.GossipKeyFingerprint != "" {
		row("Gossip key", key.FormatFingerprint(ps.GossipKeyFingerprint))
		row("  verified", ps.GossipKeyVerified.String())
		row("  gossiped", when(ps.GossipTimestamp))
	}
}
