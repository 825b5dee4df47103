/*
 * Copyright 2022 The CeresDB Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package log

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const syslogScheme = "syslog"

// syslogPrefix is a minimal RFC-3164 header writer: "<PRI>Mmm dd hh:mm:ss ident: ".
// It wraps stderr rather than dialing a syslog daemon, keeping the logging
// package free of a network dependency for the common case of an
// already-supervised process (systemd, docker) that redirects stderr into
// its own syslog forwarding.
type syslogPrefix struct {
	ident string
	mu    sync.Mutex
	out   *os.File
}

func newSyslogWriter(ident string) *syslogPrefix {
	return &syslogPrefix{ident: ident, out: os.Stderr}
}

func (s *syslogPrefix) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const facilityUser = 1
	const severityInfo = 6
	pri := facilityUser*8 + severityInfo
	header := fmt.Sprintf("<%d>%s %s: ", pri, time.Now().Format("Jan _2 15:04:05"), s.ident)
	if _, err := s.out.WriteString(header); err != nil {
		return 0, err
	}
	return s.out.Write(p)
}

func (s *syslogPrefix) Sync() error {
	return s.out.Sync()
}

func (s *syslogPrefix) Close() error {
	return nil
}

func init() {
	// Registering the scheme is idempotent-safe to call once at package
	// init; zap.Config.Build resolves "syslog:ident" output paths through it.
	if err := registerSyslogSink(); err != nil {
		fmt.Println("fail to register syslog sink, err:", err)
	}
}

func registerSyslogSink() error {
	return zap.RegisterSink(syslogScheme, func(u *url.URL) (zap.Sink, error) {
		ident := u.Opaque
		if ident == "" {
			ident = u.Host
		}
		if ident == "" {
			ident = "dbproxy"
		}
		return newSyslogWriter(ident), nil
	})
}

// parseSyslogTarget extracts the ident from a "syslog:ident" File value.
func parseSyslogTarget(file string) (ident string, ok bool) {
	if !strings.HasPrefix(file, syslogScheme+":") {
		return "", false
	}
	return strings.TrimPrefix(file, syslogScheme+":"), true
}

// syslogOutputPath renders the ident into a URL zap's sink registry accepts.
func syslogOutputPath(ident string) string {
	u := url.URL{Scheme: syslogScheme, Opaque: ident}
	return u.String()
}
