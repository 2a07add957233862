package core

import (
	"fmt"
	"math"

	"github.com/automoto/arenanet/shared/arena"
	"github.com/automoto/arenanet/shared/leveldata"
	"github.com/automoto/arenanet/shared/netcomponents"
	"github.com/automoto/arenanet/shared/netconfig"
	"github.com/automoto/arenanet/shared/netstate"
	"github.com/automoto/arenanet/shared/pmove"
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
	"github.com/yohamta/donburi"
	"github.com/yohamta/donburi/ecs"
)

const (
	eventHoldMs    = 300
	fireIntervalMs = 500
	missileLifeMs  = 2000
	missileSpeed   = 900
	missileDamage  = 25
	eyeHeight      = 26
	maxHealth      = 100
	itemRespawnMs  = 10000
)

// raiseEvent sets ev on the entity h. EventParm counts events so a repeat of
// the same event still changes the entity.
func (s *Server) raiseEvent(h arena.Handle, ev netconfig.EventID) {
	entry, ok := s.world.Entry(h)
	if !ok {
		return
	}
	ne := netcomponents.NetEntity.Get(entry)
	ne.State.Event = ev
	ne.State.EventParm++
	if entry.HasComponent(netcomponents.Event) {
		netcomponents.Event.Get(entry).ClearAt = s.serverTime + eventHoldMs
	}
}

// updateEvents clears entity events whose hold time has passed.
func (s *Server) updateEvents(e *ecs.ECS) {
	netcomponents.Event.Each(e.World, func(entry *donburi.Entry) {
		ev := netcomponents.Event.Get(entry)
		if ev.ClearAt == 0 || s.serverTime < ev.ClearAt {
			return
		}
		ev.ClearAt = 0
		netcomponents.NetEntity.Get(entry).State.Event = netconfig.EventNone
	})
}

func (s *Server) fireMissile(c *Client) {
	entry, ok := s.world.Entry(c.entity)
	if !ok {
		return
	}
	pd := netcomponents.Player.Get(entry)
	if s.serverTime < pd.NextFireAt || c.player.Health <= 0 {
		return
	}
	pd.NextFireAt = s.serverTime + fireIntervalMs

	yaw := float64(c.player.ViewAngles[1]) * math.Pi / 180
	dir := netstate.Vec3{float32(math.Cos(yaw)), float32(math.Sin(yaw)), 0}
	start := c.player.Origin.Add(dir.Scale(s.level.Move.Params().HalfWidth + 4))
	start[2] += eyeHeight

	_, missile, err := s.world.Spawn(netstate.EntityState{
		Type:        netconfig.EntityMissile,
		Origin:      start,
		Velocity:    dir.Scale(missileSpeed),
		Angles:      netstate.Vec3{0, c.player.ViewAngles[1], 0},
		Model:       2,
		OtherEntity: c.entity.Index,
	}, netcomponents.Missile)
	if err != nil {
		s.logger.Debug("cannot spawn missile", "client", c.Num, "err", err)
		return
	}
	netcomponents.Missile.Set(missile, &netcomponents.MissileData{
		Owner:     c.entity.Index,
		ExpiresAt: s.serverTime + missileLifeMs,
	})
	s.raiseEvent(c.entity, netconfig.EventFireWeapon)
}

// updateMissiles flies every missile one frame and removes those that hit a
// wall or a player, or ran out of time.
func (s *Server) updateMissiles(e *ecs.ECS) {
	var spent []arena.Handle
	netcomponents.Missile.Each(e.World, func(entry *donburi.Entry) {
		m := netcomponents.Missile.Get(entry)
		ne := netcomponents.NetEntity.Get(entry)
		if s.serverTime >= m.ExpiresAt {
			spent = append(spent, ne.Slot)
			return
		}
		end, hit := s.level.Move.Trace(ne.State.Origin, ne.State.Velocity.Scale(s.frameTime))
		ne.State.Origin = end
		if hit {
			spent = append(spent, ne.Slot)
			return
		}
		if victim := s.playerAt(end, m.Owner); victim != nil {
			s.damage(victim, missileDamage, m.Owner)
			spent = append(spent, ne.Slot)
		}
	})
	for _, h := range spent {
		s.world.Despawn(h)
	}
}

// playerAt returns the living player whose box contains p, ignoring the
// entity skip.
func (s *Server) playerAt(p netstate.Vec3, skip uint16) *Client {
	params := s.level.Move.Params()
	var found *Client
	s.eachClient(func(c *Client) {
		if found != nil || c.entity.Index == skip || c.player.Health <= 0 {
			return
		}
		o := c.player.Origin
		if abs32(p[0]-o[0]) <= params.HalfWidth && abs32(p[1]-o[1]) <= params.HalfWidth &&
			p[2] >= o[2] && p[2] <= o[2]+params.Height {
			found = c
		}
	})
	return found
}

func (s *Server) damage(c *Client, amount int16, attacker uint16) {
	c.player.Health -= amount
	if c.player.Health > 0 {
		s.raiseEvent(c.entity, netconfig.EventPain)
		return
	}
	s.raiseEvent(c.entity, netconfig.EventDeath)
	if killer, ok := s.Client(int(attacker)); ok {
		s.broadcast(fmt.Sprintf("print %s was hit by %s", c.Name, killer.Name))
	}
	s.respawn(c)
}

// respawn moves c to the next spawn point. Command bookkeeping survives so
// the client's prediction can reconcile against the new position.
func (s *Server) respawn(c *Client) {
	prev := c.player
	c.player = pmove.Spawn(s.level.NextSpawn(), c.entity.Index)
	c.player.CommandSeq = prev.CommandSeq
	c.player.CommandTime = prev.CommandTime
	s.world.Mutate(c.entity, func(es *netstate.EntityState) {
		es.Flags ^= netconfig.FlagTeleport
	})
}

// SpawnMover adds a prop that travels along path and back forever.
func (s *Server) SpawnMover(path leveldata.MoverPath) (arena.Handle, error) {
	base := netstate.Vec3{float32(path.X), float32(path.Y), 0}
	h, entry, err := s.world.Spawn(netstate.EntityState{
		Type:   netconfig.EntityMover,
		Origin: base,
		Model:  uint16(path.Model),
	}, netcomponents.Mover)
	if err != nil {
		return arena.Handle{}, err
	}
	d := float32(path.Duration)
	netcomponents.Mover.Set(entry, &netcomponents.MoverData{
		Base:   base,
		Offset: netstate.Vec3{float32(path.DX), float32(path.DY), 0},
		Legs: []*gween.Tween{
			gween.New(0, 1, d, ease.Linear),
			gween.New(1, 0, d, ease.Linear),
		},
	})
	return h, nil
}

// updateMovers advances every mover along its tween legs.
func (s *Server) updateMovers(e *ecs.ECS) {
	if s.frameTime <= 0 {
		return
	}
	netcomponents.Mover.Each(e.World, func(entry *donburi.Entry) {
		m := netcomponents.Mover.Get(entry)
		ne := netcomponents.NetEntity.Get(entry)
		frac, done := m.Legs[m.Leg].Update(s.frameTime)
		if done {
			m.Leg = (m.Leg + 1) % len(m.Legs)
			m.Legs[m.Leg].Reset()
		}
		prev := ne.State.Origin
		ne.State.Origin = m.Base.Add(m.Offset.Scale(frac))
		ne.State.Velocity = ne.State.Origin.Sub(prev).Scale(1 / s.frameTime)
	})
}

// SpawnItem adds a health pickup.
func (s *Server) SpawnItem(item leveldata.ItemSpawn) (arena.Handle, error) {
	h, entry, err := s.world.Spawn(netstate.EntityState{
		Type:   netconfig.EntityItem,
		Origin: netstate.Vec3{float32(item.X), float32(item.Y), 0},
		Model:  uint16(item.Model),
	}, netcomponents.Item, netcomponents.Event)
	if err != nil {
		return arena.Handle{}, err
	}
	netcomponents.Item.Set(entry, &netcomponents.ItemData{Amount: int16(item.Amount)})
	return h, nil
}

// updateItems hands visible items to hurt players standing on them and
// brings taken items back once their respawn time has passed.
func (s *Server) updateItems(e *ecs.ECS) {
	var taken []arena.Handle
	netcomponents.Item.Each(e.World, func(entry *donburi.Entry) {
		it := netcomponents.Item.Get(entry)
		ne := netcomponents.NetEntity.Get(entry)
		if ne.State.Flags&netconfig.FlagInvisible != 0 {
			if s.serverTime >= it.RespawnAt {
				ne.State.Flags &^= netconfig.FlagInvisible
			}
			return
		}
		c := s.playerAt(ne.State.Origin, ne.Slot.Index)
		if c == nil || c.player.Health >= maxHealth {
			return
		}
		c.player.Health = min(c.player.Health+it.Amount, maxHealth)
		it.RespawnAt = s.serverTime + itemRespawnMs
		ne.State.Flags |= netconfig.FlagInvisible
		taken = append(taken, ne.Slot)
		s.queueReliable(c, fmt.Sprintf("print picked up %d health", it.Amount))
	})
	for _, h := range taken {
		s.raiseEvent(h, netconfig.EventItemPickup)
	}
}

// spawnLevelEntities adds the movers and items of the current map.
func (s *Server) spawnLevelEntities() error {
	if s.level.Data == nil {
		return nil
	}
	for _, mp := range s.level.Data.Movers {
		if _, err := s.SpawnMover(mp); err != nil {
			return fmt.Errorf("spawn mover: %w", err)
		}
	}
	for _, it := range s.level.Data.Items {
		if _, err := s.SpawnItem(it); err != nil {
			return fmt.Errorf("spawn item: %w", err)
		}
	}
	return nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
