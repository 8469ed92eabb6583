//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * Portions are derived from of Linux's tcp.h, used under the syscall exception
 * (see https://spdx.org/licenses/Linux-syscall-note.html).
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package transportstats monitors the health of the TCP connection a ROHC
// feedback channel rides on (SPEC_FULL.md §9). ROHC feedback is explicitly
// out-of-band: nothing in the compressor core opens sockets, so this package
// is the thing a caller hangs off its own feedback-transport net.Conn to
// know whether that channel is still delivering feedback in a timely way.
package transportstats

import (
	"errors"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RawTCPInfo has identical memory layout to Linux kernel tcp_info struct (current as of kernel 5.17.0).
// bitfield0 and bitfield1 have been added to capture the 4 packed fields. Note that bitfield1 would still
// have had the same location before tcpi_delivery_rate_app_limited and tcpi_fastopen_client_fail were added
// (in v4.9.0 and v5.5.0 respectively) because of alignment rules, so they didn't increase the length or
// shift the offsets of subsequent variables.
type RawTCPInfo struct { // struct tcp_info {
	state                uint8  // 1   __u8  tcpi_state;
	ca_state             uint8  // 2   __u8  tcpi_ca_state;
	retransmits          uint8  // 3   __u8  tcpi_retransmits;
	probes               uint8  // 4   __u8  tcpi_probes;
	backoff              uint8  // 5   __u8  tcpi_backoff;
	options              uint8  // 6   __u8  tcpi_options;
	bitfield0            uint8  // 7   __u8  tcpi_snd_wscale : 4, tcpi_rcv_wscale : 4;
	bitfield1            uint8  // 8   __u8  tcpi_delivery_rate_app_limited:1, tcpi_fastopen_client_fail:2;
	rto                  uint32 // 12  __u32 tcpi_rto;
	ato                  uint32 // 16  __u32 tcpi_ato;
	snd_mss              uint32 // 20  __u32 tcpi_snd_mss;
	rcv_mss              uint32 // 24  __u32 tcpi_rcv_mss;
	unacked              uint32 // 28  __u32 tcpi_unacked;
	sacked               uint32 // 32  __u32 tcpi_sacked;
	lost                 uint32 // 36  __u32 tcpi_lost;
	retrans              uint32 // 40  __u32 tcpi_retrans;
	fackets              uint32 // 44  __u32 tcpi_fackets;
	last_data_sent       uint32 // 48  __u32 tcpi_last_data_sent;
	last_ack_sent        uint32 // 52  __u32 tcpi_last_ack_sent;
	last_data_recv       uint32 // 56  __u32 tcpi_last_data_recv;
	last_ack_recv        uint32 // 60  __u32 tcpi_last_ack_recv;
	pmtu                 uint32 // 64  __u32 tcpi_pmtu;
	rcv_ssthresh         uint32 // 68  __u32 tcpi_rcv_ssthresh;
	rtt                  uint32 // 72  __u32 tcpi_rtt;
	rttvar               uint32 // 76  __u32 tcpi_rttvar;
	snd_ssthresh         uint32 // 80  __u32 tcpi_snd_ssthresh;
	snd_cwnd             uint32 // 84  __u32 tcpi_snd_cwnd;
	advmss               uint32 // 88  __u32 tcpi_advmss;
	reordering           uint32 // 92  __u32 tcpi_reordering;
	rcv_rtt              uint32 // 96  __u32 tcpi_rcv_rtt;
	rcv_space            uint32 // 100 __u32 tcpi_rcv_space;
	total_retrans        uint32 // 104 __u32 tcpi_total_retrans;
	pacing_rate          uint64 // 112 __u64 tcpi_pacing_rate;
	max_pacing_rate      uint64 // 120 __u64 tcpi_max_pacing_rate;
	bytes_acked          uint64 // 128 __u64 tcpi_bytes_acked;
	bytes_received       uint64 // 136 __u64 tcpi_bytes_received;
	segs_out             uint32 // 140 __u32 tcpi_segs_out;
	segs_in              uint32 // 144 __u32 tcpi_segs_in;
	notsent_bytes        uint32 // 148 __u32 tcpi_notsent_bytes;
	min_rtt              uint32 // 152 __u32 tcpi_min_rtt;
	data_segs_in         uint32 // 156 __u32 tcpi_data_segs_in;
	data_segs_out        uint32 // 160 __u32 tcpi_data_segs_out;
	delivery_rate        uint64 // 168 __u64 tcpi_delivery_rate;
	busy_time            uint64 // 176 __u64 tcpi_busy_time;
	rwnd_limited         uint64 // 184 __u64 tcpi_rwnd_limited;
	sndbuf_limited       uint64 // 192 __u64 tcpi_sndbuf_limited;
	delivered            uint32 // 196 __u32 tcpi_delivered;
	delivered_ce         uint32 // 200 __u32 tcpi_delivered_ce;
	bytes_sent           uint64 // 208 __u64 tcpi_bytes_sent;
	bytes_retrans        uint64 // 216 __u64 tcpi_bytes_retrans;
	dsack_dups           uint32 // 220 __u32 tcpi_dsack_dups;
	reord_seen           uint32 // 224 __u32 tcpi_reord_seen;
	rcv_ooopack          uint32 // 228 __u32 tcpi_rcv_ooopack;
	snd_wnd              uint32 // 232 __u32 tcpi_snd_wnd;
	rcv_wnd              uint32 // 236 __u32 tcpi_rcv_wnd;
	rehash               uint32 // 240 __u32 tcpi_rehash;
	total_rto            uint16 // 242 __u16 tcpi_total_rto
	total_rto_recoveries uint16 // 244 __u16 tcpi_total_rto_recoveries
	total_rto_time       uint32 // 248 __u32 tcpi_total_rto_time
} //};

// NullableUint32 marks a field absent on kernels older than the one that
// introduced it, rather than silently reporting zero.
type NullableUint32 struct {
	Valid bool
	Value uint32
}

// NullableUint64 is NullableUint32 for 64-bit fields.
type NullableUint64 struct {
	Valid bool
	Value uint64
}

// ChannelHealth is the subset of tcp_info this package surfaces: the
// signals relevant to judging whether a ROHC feedback channel is still
// healthy (round-trip latency, loss, and congestion window), not a full
// tcp_info mirror. Struct tags follow the tcpi format cmd/rohc-metrics-gen
// parses to generate its generatedChannelInfos descriptor table.
type ChannelHealth struct {
	State         uint8          `tcpi:"name=state,prom_type=gauge,prom_help='Connection state, see include/net/tcp_states.h.'"`
	Retransmits   uint8          `tcpi:"name=retransmits,prom_type=gauge,prom_help='Number of timeouts (RTO based retransmissions) at this sequence.'"`
	Lost          uint32         `tcpi:"name=lost,prom_type=gauge,prom_help='Scoreboard segments marked lost by loss detection heuristics.'"`
	Retrans       uint32         `tcpi:"name=retrans,prom_type=gauge,prom_help='Scoreboard segments marked retransmitted.'"`
	RTT           uint32         `tcpi:"name=rtt,prom_type=gauge,prom_help='Smoothed round trip time, in microseconds.'"`
	RTTVar        uint32         `tcpi:"name=rttvar,prom_type=gauge,prom_help='Round trip time variance, in microseconds.'"`
	SndCWnd       uint32         `tcpi:"name=snd_cwnd,prom_type=gauge,prom_help='Congestion window.'"`
	MinRTT        NullableUint32 `tcpi:"name=min_rtt,prom_type=gauge,prom_help='Minimum observed RTT, in microseconds.'"`
	BytesAcked    NullableUint64 `tcpi:"name=bytes_acked,prom_type=gauge,prom_help='Data bytes for which cumulative acknowledgments have been received.'"`
	BytesReceived NullableUint64 `tcpi:"name=bytes_received,prom_type=gauge,prom_help='Data bytes for which cumulative acknowledgments have been sent.'"`
}

// Unpack copies the feedback-health-relevant fields from RawTCPInfo,
// marking fields not provided by older kernel versions as null.
func (packed *RawTCPInfo) Unpack() *ChannelHealth {
	unpacked := ChannelHealth{
		State:       packed.state,
		Retransmits: packed.retransmits,
		Lost:        packed.lost,
		Retrans:     packed.retrans,
		RTT:         packed.rtt,
		RTTVar:      packed.rttvar,
		SndCWnd:     packed.snd_cwnd,
	}

	unpacked.MinRTT = NullableUint32{Valid: false}
	if kernelVersionIsAtLeast_4_6 {
		unpacked.MinRTT.Valid = true
		unpacked.MinRTT.Value = packed.min_rtt
	}

	unpacked.BytesAcked = NullableUint64{Valid: false}
	unpacked.BytesReceived = NullableUint64{Valid: false}
	if kernelVersionIsAtLeast_4_1 {
		unpacked.BytesAcked.Valid = true
		unpacked.BytesAcked.Value = packed.bytes_acked
		unpacked.BytesReceived.Valid = true
		unpacked.BytesReceived.Value = packed.bytes_received
	}

	return &unpacked
}

// Errors from syscall package are private, so we define our own to match the errno.
var (
	EAGAIN error = syscall.EAGAIN
	EINVAL error = syscall.EINVAL
	ENOENT error = syscall.ENOENT
)

var ErrKernelTooOld = errors.New("tcp_info is not available on Linux prior to kernel 2.6.2")

// GetChannelHealth calls getsockopt(2) on fd to retrieve tcp_info and
// unpacks the feedback-channel-relevant fields.
func GetChannelHealth(fd int) (*ChannelHealth, error) {
	if !kernelVersionIsAtLeast_2_6_2 {
		return nil, ErrKernelTooOld
	}

	var value RawTCPInfo
	length := uint32(sizeOfRawTCPInfo)

	_, _, errNo := unix.Syscall6(
		unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(unix.SOL_TCP),
		uintptr(unix.TCP_INFO),
		uintptr(unsafe.Pointer(&value)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errNo != 0 {
		switch errNo {
		case syscall.EAGAIN:
			return nil, EAGAIN
		case syscall.EINVAL:
			return nil, EINVAL
		case syscall.ENOENT:
			return nil, ENOENT
		}
		return nil, errNo
	}

	return value.Unpack(), nil
}
