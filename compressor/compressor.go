/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package compressor assembles the ROHC compressor core: a context table
// keyed by CID, the set of activated profiles, shared CRC tables, and the
// random-number source new contexts are seeded from (spec.md §2, §3).
//
// The context table is structured after the teacher's connection-tracking
// collector: a map guarded by a mutex, because Compress runs on the
// caller's goroutine while a Prometheus collector may read the live
// context set from a different one (spec.md §5, SPEC_FULL.md §5).
package compressor

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/MartinFretigne/rohc/internal/cid"
	"github.com/MartinFretigne/rohc/internal/crc"
	"github.com/MartinFretigne/rohc/internal/feedback"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/profile"
	"github.com/MartinFretigne/rohc/profile/udp"
	"github.com/MartinFretigne/rohc/profile/uncompressed"
)

// Sentinel errors returned by Compress and DeliverFeedback (spec.md §7).
var (
	ErrCapacity        = errors.New("compressor: output buffer too small")
	ErrMalformed       = errors.New("compressor: malformed input")
	ErrProfileNotFound = errors.New("compressor: no activated profile matches this flow")
)

// assertInternal panics on an invariant violation, matching spec.md §7's
// "internal-assertion: fatal, compressor abandoned".
func assertInternal(cond bool, msg string) {
	if !cond {
		panic("compressor: internal assertion failed: " + msg)
	}
}

// Config holds compressor-wide tunables (spec.md §3).
type Config struct {
	CIDVariant               cid.Variant
	MaxCID                   int
	OARepetitionsNR          int
	PeriodicRefreshIRTimeout int
	// RandomSeed seeds the default random-number source used to pick new
	// contexts' initial SN, when SetRandomFunc is never called.
	RandomSeed int64
	Logger     *logrus.Logger
}

// context is one live flow's state in the table (spec.md §3's Context).
type context struct {
	cid      int
	prof     profile.Profile
	payload  profile.Context
	lastUsed time.Time
	trace    xid.ID
}

// PacketInfo mirrors spec.md §6's get_last_packet_info.
type PacketInfo struct {
	ProfileID packet.ProfileID
	CID       int
	Type      packet.Type
	Mode      profile.Mode
	State     profile.State
}

// Compressor is one ROHC compressor instance (spec.md §3).
type Compressor struct {
	cfg Config

	mu       sync.Mutex
	contexts map[int]*context
	profiles []profile.Profile

	largeCID bool
	random   func() uint16

	crcTables *crc.Tables
	log       *logrus.Entry

	lastInfo      PacketInfo
	packetsByType map[packet.Type]uint64
	irRefreshes   uint64
}

// New builds a compressor with no profiles activated yet. Activate at
// least one profile with ActivateProfile before calling Compress.
func New(cfg Config) (*Compressor, error) {
	if cfg.MaxCID < 0 {
		return nil, fmt.Errorf("compressor: invalid MaxCID %d", cfg.MaxCID)
	}
	if cfg.OARepetitionsNR <= 0 {
		cfg.OARepetitionsNR = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	rng := rand.New(rand.NewSource(cfg.RandomSeed))

	c := &Compressor{
		cfg:           cfg,
		contexts:      make(map[int]*context),
		largeCID:      cfg.CIDVariant == cid.Large,
		crcTables:     crc.NewTables(),
		log:           cfg.Logger.WithField("component", "compressor"),
		random:        func() uint16 { return uint16(rng.Intn(1 << 16)) },
		packetsByType: make(map[packet.Type]uint64),
	}
	return c, nil
}

// ActivateProfile enables a profile by ROHC profile id.
func (c *Compressor) ActivateProfile(id packet.ProfileID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch id {
	case packet.ProfileUncompressed:
		c.profiles = append(c.profiles, uncompressed.New(c.cidVariant(), 0, c.cfg.PeriodicRefreshIRTimeout))
	case packet.ProfileUDP:
		c.profiles = append(c.profiles, udp.New(c.cidVariant(), 0, c.cfg.OARepetitionsNR, c.cfg.PeriodicRefreshIRTimeout))
	default:
		return fmt.Errorf("%w: profile %s is not implemented by this core", ErrProfileNotFound, id)
	}
	c.log.WithField("profile", id).Info("profile activated")
	return nil
}

func (c *Compressor) cidVariant() cid.Variant {
	if c.largeCID {
		return cid.Large
	}
	return cid.Small
}

// SetLargeCID switches between small-CID and large-CID encoding for
// contexts created from this point on (spec.md §6).
func (c *Compressor) SetLargeCID(large bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.largeCID = large
}

// SetRandomFunc installs the callback used to seed new contexts' SN
// (spec.md §3 invariant 4, §6).
func (c *Compressor) SetRandomFunc(fn func() uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.random = fn
}

// Compress runs one packet through the core: find or create the matching
// context, then delegate to its profile (spec.md §2's data-flow diagram).
func (c *Compressor) Compress(hdrs profile.Headers, at time.Time, out []byte) (int, packet.Type, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := c.lookupOrCreate(hdrs)
	if err != nil {
		return 0, packet.TypeUnknown, err
	}

	env := profile.Env{CRC: c.crcTables, Random: c.random}
	res, err := ctx.payload.Encode(env, hdrs, at, out)
	if err != nil {
		c.log.WithError(err).WithField("cid", ctx.cid).Warn("compress failed")
		return 0, packet.TypeUnknown, fmt.Errorf("%w: %v", ErrCapacity, err)
	}

	ctx.lastUsed = at
	c.lastInfo = PacketInfo{
		ProfileID: ctx.prof.ID(),
		CID:       ctx.cid,
		Type:      res.Type,
		Mode:      ctx.payload.Mode(),
		State:     ctx.payload.State(),
	}
	c.packetsByType[res.Type]++
	if res.Type == packet.TypeIR || res.Type == packet.TypeUncompressedIR {
		c.irRefreshes++
	}

	return res.N, res.Type, nil
}

func (c *Compressor) lookupOrCreate(hdrs profile.Headers) (*context, error) {
	for _, ctx := range c.contexts {
		if ctx.prof.Match(ctx.payload, hdrs) {
			return ctx, nil
		}
	}

	// The first applicable profile in activation order wins, except that
	// Uncompressed only wins when no other activated profile applies.
	var chosen profile.Profile
	for _, p := range c.profiles {
		if !p.Applicable(hdrs) {
			continue
		}
		if chosen == nil || chosen.ID() == packet.ProfileUncompressed {
			chosen = p
		}
	}
	if chosen == nil {
		return nil, ErrProfileNotFound
	}

	id, err := c.allocateCID()
	if err != nil {
		return nil, err
	}

	_, alreadyUsed := c.contexts[id]
	assertInternal(!alreadyUsed, "allocateCID returned a CID already in the context table")

	// Stamp the allocated CID and the current CID variant into the profile's
	// config; NewContext copies it, so the new context frames its packets
	// with them.
	switch p := chosen.(type) {
	case *udp.Profile:
		p.Config.CIDVariant, p.Config.CID = c.cidVariant(), id
	case *uncompressed.Profile:
		p.Config.CIDVariant, p.Config.CID = c.cidVariant(), id
	}

	env := profile.Env{CRC: c.crcTables, Random: c.random}
	ctx := &context{
		cid:      id,
		prof:     chosen,
		payload:  chosen.NewContext(env, hdrs),
		lastUsed: time.Now(),
		trace:    xid.New(),
	}
	c.contexts[id] = ctx
	c.log.WithFields(logrus.Fields{"cid": id, "profile": chosen.ID(), "trace": ctx.trace.String()}).Info("context created")
	return ctx, nil
}

// allocateCID picks a free CID, evicting the least-recently-used context
// when the table is full (spec.md §3, "Destroyed on explicit close or LRU
// eviction").
func (c *Compressor) allocateCID() (int, error) {
	for i := 0; i <= c.cfg.MaxCID; i++ {
		if _, used := c.contexts[i]; !used {
			return i, nil
		}
	}

	var oldestID int
	var oldest time.Time
	first := true
	for id, ctx := range c.contexts {
		if first || ctx.lastUsed.Before(oldest) {
			oldestID, oldest = id, ctx.lastUsed
			first = false
		}
	}
	if first {
		return 0, fmt.Errorf("compressor: no CID available and table is empty")
	}

	c.log.WithField("cid", oldestID).Info("evicting LRU context")
	c.contexts[oldestID].payload.Close()
	delete(c.contexts, oldestID)
	return oldestID, nil
}

// LastPacketInfo reports the profile, CID, type, mode and state of the
// most recent successful Compress call (spec.md §6).
func (c *Compressor) LastPacketInfo() PacketInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInfo
}

// DeliverFeedback parses and applies one feedback packet (spec.md §4.5,
// §6). It returns an error only for buffer-level malformation; content
// rejections (bad CRC, unknown CID) are logged and dropped.
func (c *Compressor) DeliverFeedback(fb []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(fb) == 0 {
		return fmt.Errorf("%w: empty feedback buffer", ErrMalformed)
	}

	rest := fb
	cidVal := 0
	if c.largeCID {
		v, n, err := cid.ReadLargeCID(fb)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		cidVal, rest = v, fb[n:]
	} else if v, ok := cid.ReadAddCID(fb[0]); ok {
		cidVal, rest = v, fb[1:]
	}

	if len(rest) == 0 {
		return fmt.Errorf("%w: empty feedback payload", ErrMalformed)
	}

	ackType := profile.AckTypeACK
	if len(rest) > 1 {
		ackType = profile.AckType(rest[0] >> 6)
	}

	fbuf := append([]byte(nil), rest...)
	parsed, ok, err := feedback.Parse(fbuf, ackType)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !ok {
		c.log.WithField("cid", cidVal).Warn("feedback discarded")
		return nil
	}

	ctx, found := c.contexts[cidVal]
	if !found {
		c.log.WithField("cid", cidVal).Warn("feedback for unknown context dropped")
		return nil
	}
	ctx.payload.Feedback(parsed)
	return nil
}

// Close releases every live context (spec.md §5's resource discipline).
func (c *Compressor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ctx := range c.contexts {
		ctx.payload.Close()
		delete(c.contexts, id)
	}
}

// Stats is a point-in-time snapshot consumed by metrics.CompressorCollector.
type Stats struct {
	ContextCount  int
	PacketsByType map[packet.Type]uint64
	IRRefreshes   uint64
}

// Stats returns a copy of the compressor's running counters.
func (c *Compressor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[packet.Type]uint64, len(c.packetsByType))
	for t, n := range c.packetsByType {
		byType[t] = n
	}
	return Stats{
		ContextCount:  len(c.contexts),
		PacketsByType: byType,
		IRRefreshes:   c.irRefreshes,
	}
}

// Contexts returns a snapshot of live CIDs and their profile/state, for
// metrics collection (metrics.CompressorCollector reads this).
func (c *Compressor) Contexts() []PacketInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PacketInfo, 0, len(c.contexts))
	for _, ctx := range c.contexts {
		out = append(out, PacketInfo{
			ProfileID: ctx.prof.ID(),
			CID:       ctx.cid,
			Mode:      ctx.payload.Mode(),
			State:     ctx.payload.State(),
		})
	}
	return out
}
