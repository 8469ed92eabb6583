/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// rohc-relay is a demo: it receives uncompressed IPv4/UDP packets on a UDP
// socket, compresses each through a compressor.Compressor, and accepts TCP
// connections carrying ROHC feedback for that same compressor. It exposes
// both the compressor's own counters and the feedback channel's TCP health
// on /metrics. Each accepted feedback connection is registered with the
// health collector for its lifetime, as the teacher's
// cmd/exporter_example2 does for its HTTP connections, but driven by the
// Accept loop instead of http.Server.ConnState. The compressed bytes are
// only logged, not sent anywhere.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/MartinFretigne/rohc/compressor"
	"github.com/MartinFretigne/rohc/metrics"
	"github.com/MartinFretigne/rohc/packet"
	"github.com/MartinFretigne/rohc/parse"
	"github.com/MartinFretigne/rohc/transportstats"
)

func main() {
	udpAddr := flag.String("udp", ":18081", "address to receive uncompressed packets on")
	feedbackAddr := flag.String("feedback", ":18082", "address to accept the feedback TCP connection on")
	metricsAddr := flag.String("metrics", ":18080", "address to serve /metrics on")
	flag.Parse()

	hostname, err := os.Hostname()
	if err != nil {
		panic(err)
	}
	log := logrus.New()

	comp, err := compressor.New(compressor.Config{MaxCID: 15, Logger: log})
	if err != nil {
		log.WithError(err).Fatal("failed to create compressor")
	}
	if err := comp.ActivateProfile(packet.ProfileUncompressed); err != nil {
		log.WithError(err).Fatal("failed to activate profile")
	}
	if err := comp.ActivateProfile(packet.ProfileUDP); err != nil {
		log.WithError(err).Fatal("failed to activate profile")
	}

	constLabels := prometheus.Labels{"app": "rohc-relay", "hostname": hostname}
	prometheus.MustRegister(metrics.NewCompressorCollector(comp, constLabels))

	feedbackHealth := transportstats.NewFeedbackChannelCollector(
		"rohc_feedback_channel_",
		[]string{"id", "remote_host"},
		constLabels,
		func(err error) { log.WithError(err).Warn("feedback channel health read failed") },
	)
	prometheus.MustRegister(feedbackHealth)

	go serveUDP(*udpAddr, comp, log)
	go serveFeedback(*feedbackAddr, comp, feedbackHealth, log)

	http.Handle("/metrics", promhttp.Handler())
	log.WithField("addr", *metricsAddr).Info("serving metrics")
	if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
		log.WithError(err).Fatal("metrics server exited")
	}
}

func serveUDP(addr string, comp *compressor.Compressor, log *logrus.Logger) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		log.WithError(err).Fatal("invalid udp address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen for uncompressed packets")
	}
	defer conn.Close()

	buf := make([]byte, 65536)
	out := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.WithError(err).Warn("udp read failed")
			continue
		}

		hdrs, err := parse.Headers(buf[:n])
		if err != nil {
			log.WithError(err).Warn("dropping unparseable packet")
			continue
		}

		size, typ, err := comp.Compress(hdrs, time.Now(), out)
		if err != nil {
			log.WithError(err).Warn("compression failed")
			continue
		}
		log.WithFields(logrus.Fields{"type": typ, "size": size}).Debug("compressed packet")
	}
}

func serveFeedback(addr string, comp *compressor.Compressor, health *transportstats.FeedbackChannelCollector, log *logrus.Logger) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Fatal("failed to listen for feedback connections")
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Warn("feedback accept failed")
			continue
		}
		go handleFeedback(conn, comp, health, log)
	}
}

func handleFeedback(conn net.Conn, comp *compressor.Compressor, health *transportstats.FeedbackChannelCollector, log *logrus.Logger) {
	id := xid.New().String()
	tracked := transportstats.WrapFeedbackConn(conn, health, []string{id, conn.RemoteAddr().String()})
	defer tracked.Close()

	buf := make([]byte, 256)
	for {
		n, err := tracked.Read(buf)
		if err != nil {
			return
		}
		if err := comp.DeliverFeedback(buf[:n]); err != nil {
			log.WithError(err).WithField("conn", id).Warn("malformed feedback discarded")
		}
	}
}
