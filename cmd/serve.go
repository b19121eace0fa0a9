// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"

	"github.com/blockvault/bfs/cfg"
	"github.com/blockvault/bfs/clock"
	"github.com/blockvault/bfs/fs"
	"github.com/blockvault/bfs/internal/aclcheck"
	"github.com/blockvault/bfs/internal/blockdev"
	"github.com/blockvault/bfs/internal/layout"
	"github.com/blockvault/bfs/internal/logger"
	"github.com/blockvault/bfs/internal/metrics"
	"github.com/blockvault/bfs/internal/rpcwire"
	"github.com/blockvault/bfs/internal/secassoc"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

var serveCmd = &cobra.Command{
	Use:   "serve <device-path>",
	Short: "Mount a formatted bfs volume and serve it over the RPC wire protocol.",
	Args:  cobra.ExactArgs(1),
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	lc := MountConfig.Logging
	if lc.Enabled && lc.ToFile {
		if err := logger.InitLogFile(lc); err != nil {
			return fmt.Errorf("initializing log file: %w", err)
		}
	}
	if lc.Verbose {
		logger.SetLogFormat("text")
	}

	devPath := args[0]
	dev, err := blockdev.Open(devPath, layout.BlockSize, 0)
	if err != nil {
		return fmt.Errorf("opening device image: %w", err)
	}
	defer dev.Close()

	ownSA, err := newSAFromHex(MountConfig.SecAssoc.FsSaKey)
	if err != nil {
		return fmt.Errorf("building data-region security association: %w", err)
	}
	clSA, err := newSAFromHex(MountConfig.SecAssoc.ClServSaKey)
	if err != nil {
		return fmt.Errorf("building client-server security association: %w", err)
	}

	var acl aclcheck.Checker = aclcheck.OwnerOnly{}
	recorder := metrics.New()

	volume, err := fs.Mount(dev, ownSA, fs.Config{
		CacheSizeLimit: int(MountConfig.BfsUtilLayer.CacheSzLimit),
		CacheEnabled:   MountConfig.BfsUtilLayer.CacheEnabled,
		MerkleParanoid: MountConfig.BfsCommon.MerkleVerifyDepth == 0,
		ACL:            acl,
		Clock:          clock.RealClock{},
		Metrics:        recorder,
	})
	if err != nil {
		return fmt.Errorf("mounting volume: %w", err)
	}
	defer volume.Unmount()

	if addr := MountConfig.BfsServer.MetricsAddr; addr != "" {
		go serveMetrics(addr, recorder)
	}

	port := MountConfig.BfsServer.Port
	if port == 0 {
		port = cfg.DefaultServerPort
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	defer ln.Close()
	logger.Infof("bfs serving %s on port %d", devPath, port)

	sem := semaphore.NewWeighted(workerWeight(MountConfig.BfsServer.NumFileWorkerThreads))

	disp := newDispatcher(volume)
	for {
		conn, err := ln.Accept()
		if err != nil {
			logger.Errorf("accept: %v", err)
			continue
		}
		sessionID := uuid.New().String()
		go func() {
			if err := sem.Acquire(context.Background(), 1); err != nil {
				logger.Errorf("session %s: acquiring worker slot: %v", sessionID, err)
				conn.Close()
				return
			}
			defer sem.Release(1)
			serveConn(conn, sessionID, clSA, disp)
		}()
	}
}

// workerWeight turns bfsServer.num_file_worker_threads into the bounded
// worker pool's concurrency limit (spec §5): 0 selects single-threaded
// cooperative mode (weight 1), a positive value is used directly. A
// configured-but-excessive value is still honored -- the operator asked
// for it.
func workerWeight(configured uint64) int64 {
	if configured > 0 {
		return int64(configured)
	}
	return 1
}

// defaultWorkerLimit derives a worker-count ceiling from RLIMIT_NOFILE the same
// way gcsfuse's ChooseTempDirLimitNumFiles picks a file-count ceiling:
// about 75% of the soft limit, capped at a sane maximum, with a
// conservative fallback if the limit can't be queried.
func defaultWorkerLimit() int {
	const fallback = 64
	const reasonableMax = 1 << 12

	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		logger.Errorf("querying RLIMIT_NOFILE, using default worker limit %d: %v", fallback, err)
		return fallback
	}

	limit := rlimit.Cur/2 + rlimit.Cur/4
	if limit > reasonableMax {
		limit = reasonableMax
	}
	if limit == 0 {
		return fallback
	}
	return int(limit)
}

func newSAFromHex(hexKey string) (*secassoc.SecAssociation, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding key: %w", err)
	}
	return secassoc.New(key)
}

// serveConn owns one client's whole connection lifetime: read a request
// frame, dispatch it, write the response frame, repeat until the peer
// disconnects or a frame fails to decrypt. sessionID tags every log line
// for this connection so a worker-pool-wide log can be filtered back down
// to one client's session (spec §5's num-file-worker-threads bound is
// enforced by the caller's semaphore; this goroutine just owns the wire
// loop once it has acquired a slot).
func serveConn(conn net.Conn, sessionID string, sa *secassoc.SecAssociation, disp rpcwire.Dispatcher) {
	defer conn.Close()
	codec := rpcwire.NewCodec(sa)
	logger.Infof("session %s: accepted %s", sessionID, conn.RemoteAddr())

	for {
		req, err := codec.ReadFrame(conn)
		if err != nil {
			logger.Debugf("session %s: connection %s closed: %v", sessionID, conn.RemoteAddr(), err)
			return
		}

		resp, err := disp.Dispatch(req)
		if err != nil {
			logger.Errorf("session %s: server-fatal error on op %d, dropping session: %v", sessionID, req.Op, err)
			return
		}

		wire, err := codec.Encode(resp)
		if err != nil {
			logger.Errorf("session %s: encode response: %v", sessionID, err)
			return
		}
		if _, err := conn.Write(wire); err != nil {
			logger.Debugf("session %s: writing to %s: %v", sessionID, conn.RemoteAddr(), err)
			return
		}
	}
}

func serveMetrics(addr string, recorder *metrics.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("metrics server on %s: %v", addr, err)
	}
}
