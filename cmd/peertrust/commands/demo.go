package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/openpgp/packet"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/peertrust/internal/event"
	"github.com/nhle/peertrust/internal/logging"
	"github.com/nhle/peertrust/internal/model"
	"github.com/nhle/peertrust/internal/node"
	"github.com/nhle/peertrust/internal/peerstate"
	"github.com/nhle/peertrust/internal/store"
	"github.com/nhle/peertrust/internal/transport"
	"github.com/nhle/peertrust/internal/ui/joinview"
)

const (
	demoInviter = "alice@example.org"
	demoJoiner  = "bob@example.net"
)

func demoCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Verify two in-memory accounts against each other",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Nop()
			if verbose {
				var err error
				log, err = logging.New(model.LogConfig{Level: "debug", Development: true})
				if err != nil {
					return err
				}
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), log, nil)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every step")
	return cmd
}

type demoPeer struct {
	*node.Node
	addr   string
	events *event.Channel
}

func newDemoPeer(
	ctx context.Context,
	net *transport.Network,
	log *zap.SugaredLogger,
	keyCfg *packet.Config,
	addr, name string,
) (*demoPeer, func(), error) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		return nil, nil, err
	}
	events := event.NewChannel(256)
	n, err := node.New(ctx, s, net, events, log.Named(name), node.Options{
		KeyConfig:   keyCfg,
		JoinTimeout: time.Minute,
	})
	if err == nil {
		err = n.Mailbox.Configure(ctx, addr, name)
	}
	if err == nil {
		err = n.Mailbox.EnsureSecretKey(ctx)
	}
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return &demoPeer{Node: n, addr: addr, events: events}, func() { s.Close() }, nil
}

// runDemo lets a joiner verify an inviter over an in-process network and
// prints what each side ends up knowing about the other.
func runDemo(ctx context.Context, w io.Writer, log *zap.SugaredLogger, keyCfg *packet.Config) error {
	net := transport.NewNetwork(log.Named("network"))

	fmt.Fprintln(w, "Generating keys...")
	alice, closeAlice, err := newDemoPeer(ctx, net, log, keyCfg, demoInviter, "Alice")
	if err != nil {
		return err
	}
	defer closeAlice()
	bob, closeBob, err := newDemoPeer(ctx, net, log, keyCfg, demoJoiner, "Bob")
	if err != nil {
		return err
	}
	defer closeBob()

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range []*demoPeer{alice, bob} {
		g.Go(func() error {
			return net.Serve(gctx, p.addr, p.Deliver)
		})
	}

	text, err := alice.Securejoin.QR(ctx, 0)
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	fmt.Fprintf(w, "%s invites with %s\n", demoInviter, text)

	chatID, joinErr := bob.Securejoin.Join(ctx, text)
	var inviterSteps []int64
	if joinErr == nil {
		// the inviter reports completion after its last send
		inviterSteps = waitProgress(alice.events, event.SecurejoinInviterProgress, 5*time.Second)
	}
	cancel()
	if err := g.Wait(); err != nil {
		return err
	}
	if joinErr != nil {
		return fmt.Errorf("joining: %w", joinErr)
	}

	for _, progress := range waitProgress(bob.events, event.SecurejoinJoinerProgress, 0) {
		fmt.Fprintf(w, "%s: %s\n", demoJoiner, joinview.Stage(progress))
	}
	for _, progress := range inviterSteps {
		fmt.Fprintf(w, "%s: %s\n", demoInviter, joinview.Stage(progress))
	}
	fmt.Fprintf(w, "%s joined chat %d\n\n", demoJoiner, chatID)

	for _, side := range []struct {
		self *demoPeer
		peer string
	}{{alice, demoJoiner}, {bob, demoInviter}} {
		ps, err := peerstate.LoadByAddr(ctx, side.self.Mailbox, side.peer)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s about %s:\n", side.self.addr, side.peer)
		printPeerstate(w, ps)
		fmt.Fprintln(w)
	}
	return nil
}

// waitProgress collects progress events of kind until completion or until
// timeout passes. A zero timeout only takes what is already queued.
func waitProgress(events *event.Channel, kind event.Kind, timeout time.Duration) []int64 {
	var out []int64
	var expired <-chan time.Time
	if timeout > 0 {
		expired = time.After(timeout)
	}
	for {
		var ev event.Event
		if expired == nil {
			select {
			case ev = <-events.C:
			default:
				return out
			}
		} else {
			select {
			case ev = <-events.C:
			case <-expired:
				return out
			}
		}
		if ev.Kind != kind {
			continue
		}
		out = append(out, ev.Data2)
		if ev.Data2 >= event.ProgressDone || ev.Data2 == event.ProgressError {
			return out
		}
	}
}
