package network

import (
	"fmt"

	"github.com/automoto/arenanet/demo"
	"github.com/automoto/arenanet/shared/messages"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/neterr"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/wire"
)

// A demo message is the reliable commands a packet delivered, as a count and
// strings, followed by the packet's opcode blocks unchanged.
func encodeDemoMessage(commands []string, blocks []byte) []byte {
	w := wire.NewWriter(len(blocks) + 16)
	w.WriteUint8(uint8(len(commands)))
	for _, cmd := range commands {
		w.WriteString(cmd, netconfig.MaxStringLen)
	}
	w.WriteBytes(blocks)
	return w.Bytes()
}

// Playback feeds a recorded demo through the same reconstruction a live
// client uses.
type Playback struct {
	demo    *demo.Reader
	snaps   *reconstruction
	records int
}

// NewPlayback prepares to replay d. Only the interpolation fields of
// settings are used.
func NewPlayback(d *demo.Reader, settings Settings) (*Playback, error) {
	if h := d.Header(); h.Protocol != netconfig.ProtocolVersion {
		return nil, fmt.Errorf("demo protocol %d, expected %d", h.Protocol, netconfig.ProtocolVersion)
	}
	if settings == (Settings{}) {
		settings = DefaultSettings()
	}
	return &Playback{
		demo:  d,
		snaps: newReconstruction(NewInterpolator(settings.InterpFrames, settings.InterpDelay)),
	}, nil
}

// Header returns the demo header.
func (p *Playback) Header() demo.Header { return p.demo.Header() }

// Step decodes the next record. snap is nil when the record could not be
// reconstructed. It returns io.EOF after the last record.
func (p *Playback) Step() (snap *messages.Snapshot, commands []string, err error) {
	rec, err := p.demo.Next()
	if err != nil {
		return nil, nil, err
	}
	p.records++
	r := wire.NewReader(rec.Payload)
	n, err := r.ReadUint8()
	if err != nil {
		return nil, nil, err
	}
	if int(n) > netconfig.MaxReliableCommands {
		return nil, nil, neterr.Malformed("demo", "%d commands in record %d", n, rec.Seq)
	}
	for i := 0; i < int(n); i++ {
		cmd, err := r.ReadString(netconfig.MaxStringLen)
		if err != nil {
			return nil, nil, err
		}
		commands = append(commands, cmd)
	}
	snap, _, err = p.snaps.readBlocks(r)
	if err != nil {
		return nil, commands, fmt.Errorf("demo record %d: %w", rec.Seq, err)
	}
	if snap == nil || !p.snaps.commit(snap) {
		return nil, commands, nil
	}
	return snap, commands, nil
}

// Records returns how many records have been read.
func (p *Playback) Records() int { return p.records }

// InvalidSnapshots returns how many records referenced a baseline the demo
// did not contain.
func (p *Playback) InvalidSnapshots() int { return p.snaps.invalid }

// Latest returns the newest reconstructed snapshot, or nil.
func (p *Playback) Latest() *messages.Snapshot { return p.snaps.latest }

// View returns the entity world of the newest snapshot.
func (p *Playback) View() *View { return p.snaps.view }

// DrainEvents returns the entity events seen since the last call.
func (p *Playback) DrainEvents() []EntityEvent { return drainChan(p.snaps.events) }

// EntityAt returns entity number as it should be drawn at server time
// renderTime.
func (p *Playback) EntityAt(number uint16, renderTime int32) (netstate.EntityState, bool) {
	return p.snaps.interp.EntityAt(number, renderTime)
}

// BuildScene hands r the recording player's view and every other entity at
// server time renderTime.
func (p *Playback) BuildScene(renderTime int32, r Renderer) {
	if p.snaps.latest == nil {
		return
	}
	ps := p.snaps.latest.Player
	r.SetView(ps)
	p.snaps.scene(renderTime, ps.EntityNum, r)
}
