// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package clientpool provides a pool of per-origin httpx.Client values with
bounded size, idle eviction, and health-check-driven retirement, so the
processor reuses pooled, HTTP/2-capable connections instead of dialing
fresh ones per request.
*/
package clientpool

import (
	"fmt"
	urlpkg "net/url"
	"strconv"
	"strings"
)

// An Origin identifies a client pool key: the scheme, host, and port a
// request targets. Two requests to the same origin share a pooled
// client and its underlying connections.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// OriginOf derives the Origin a URL targets, defaulting the port
// according to the URL's scheme when none is specified.
func OriginOf(u *urlpkg.URL) (Origin, error) {
	host := u.Hostname()
	if host == "" {
		return Origin{}, fmt.Errorf("asyncx/clientpool: URL has no host: %s", u)
	}
	portStr := u.Port()
	var port int
	if portStr == "" {
		port = defaultPort(u.Scheme)
	} else {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return Origin{}, fmt.Errorf("asyncx/clientpool: invalid port in URL %s: %w", u, err)
		}
		port = p
	}
	return Origin{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(host), Port: port}, nil
}

func defaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}
