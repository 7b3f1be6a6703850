package main

import (
	"context"
	"errors"
	"fmt"

	"divert-shim/internal/adapter"
	"divert-shim/internal/log"
	"divert-shim/internal/packet"
)

// capture logs packets from ad until ctx is done or count packets have been
// seen (count 0 means no limit). Diverted packets are reinjected, with their
// checksums recalculated first when recalc is set.
func capture(ctx context.Context, ad adapter.Adapter, cfg runConfig) (int, error) {
	seen := 0
	for cfg.Count == 0 || seen < cfg.Count {
		pkt, err := ad.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, adapter.ErrClosed) {
				return seen, nil
			}
			return seen, err
		}
		seen++
		logPacket(seen, pkt)

		if cfg.sniffing() {
			continue
		}
		if cfg.Recalc {
			if err := ad.CalcChecksums(pkt); err != nil {
				return seen, fmt.Errorf("packet %d: %w", seen, err)
			}
		}
		if err := ad.Send(ctx, pkt); err != nil {
			return seen, fmt.Errorf("packet %d: %w", seen, err)
		}
	}
	return seen, nil
}

func logPacket(n int, pkt *adapter.Packet) {
	dir := "in "
	if pkt.Addr.Outbound() {
		dir = "out"
	}
	s, err := packet.Summarize(pkt.Data, pkt.Addr.IPv6())
	if err != nil {
		log.Infof("#%d %s if=%d len=%d (undecoded: %v)", n, dir, pkt.Addr.IfIdx(), len(pkt.Data), err)
		return
	}
	log.Infof("#%d %s if=%d %s", n, dir, pkt.Addr.IfIdx(), s)
}
