/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// rohc-pcap-test replays a capture through the compressor and checks the
// last packet came out as the expected ROHC packet type, the same check
// the original implementation's RTP UOR-2* disambiguation test performs
// (original_source/test/functional/rtp_uor2_disambiguation). There is no
// decompressor here (spec.md's explicit Non-goal), so this only verifies
// the compression side, and RTP is not an implemented profile, so
// PACKET_TYPE here is one of this repository's own packet.Type names
// (ir, ir-dyn, uo-0, uo-1, uor-2, normal) rather than the original's
// RTP-specific uor2rtp/uor2ts/uor2id.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/MartinFretigne/rohc/compressor"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/parse"
)

func main() {
	if len(os.Args) != 3 || os.Args[1] == "-h" {
		usage()
		os.Exit(1)
	}

	filename, wantName := os.Args[1], os.Args[2]
	want, ok := parsePacketType(wantName)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown packet type %q\n\n", wantName)
		usage()
		os.Exit(1)
	}

	if err := run(filename, want); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr,
		"Check that the compressor settles on the expected packet type\n\n"+
			"usage: rohc-pcap-test FLOW PACKET_TYPE\n\n"+
			"with:\n"+
			"  FLOW         The flow of Ethernet frames to compress (PCAP format)\n"+
			"  PACKET_TYPE  The packet type expected for the last packet,\n"+
			"               one of: ir, ir-dyn, uo-0, uo-1, uor-2, normal\n\n"+
			"options:\n"+
			"  -h           Print this usage and exit\n")
}

func parsePacketType(name string) (packet.Type, bool) {
	switch strings.ToLower(name) {
	case "ir":
		return packet.TypeIR, true
	case "ir-dyn":
		return packet.TypeIRDYN, true
	case "uo-0":
		return packet.TypeUO0, true
	case "uo-1":
		return packet.TypeUO1, true
	case "uor-2":
		return packet.TypeUOR2, true
	case "normal":
		return packet.TypeNormal, true
	default:
		return packet.TypeUnknown, false
	}
}

func run(filename string, want packet.Type) error {
	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open the source pcap file: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to parse pcap header: %w", err)
	}

	comp, err := compressor.New(compressor.Config{MaxCID: 15, RandomSeed: 5})
	if err != nil {
		return fmt.Errorf("failed to create the ROHC compressor: %w", err)
	}
	for _, id := range []packet.ProfileID{packet.ProfileUncompressed, packet.ProfileUDP} {
		if err := comp.ActivateProfile(id); err != nil {
			return fmt.Errorf("failed to activate profile %s: %w", id, err)
		}
	}

	linkType := reader.LinkType()
	out := make([]byte, 2048)

	var last packet.Type
	var counter int
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet #%d: %w", counter+1, err)
		}
		counter++

		ipPacket, err := stripLinkLayer(data, linkType)
		if err != nil {
			return fmt.Errorf("packet #%d: %w", counter, err)
		}

		hdrs, err := parse.Headers(ipPacket)
		if err != nil {
			return fmt.Errorf("packet #%d: failed to parse IP headers: %w", counter, err)
		}

		_, typ, err := comp.Compress(hdrs, time.Now(), out)
		if err != nil {
			return fmt.Errorf("packet #%d: failed to compress: %w", counter, err)
		}
		last = typ
	}

	if counter == 0 {
		return fmt.Errorf("capture contained no packets")
	}
	if last != want {
		return fmt.Errorf("last packet was compressed as %q while %q was expected", last, want)
	}
	fmt.Fprintf(os.Stderr, "all %d packets were successfully compressed; last packet was %q as expected\n", counter, last)
	return nil
}

// stripLinkLayer returns the full IP datagram (header and everything after
// it), discarding only the Ethernet/SLL/raw link-layer framing.
func stripLinkLayer(data []byte, linkType layers.LinkType) ([]byte, error) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.NoCopy)
	net := pkt.NetworkLayer()
	if net == nil {
		return nil, fmt.Errorf("no network layer found")
	}
	ipPacket := make([]byte, 0, len(net.LayerContents())+len(net.LayerPayload()))
	ipPacket = append(ipPacket, net.LayerContents()...)
	ipPacket = append(ipPacket, net.LayerPayload()...)
	return ipPacket, nil
}
