// Package transport chooses how a package is published to a target.
// This is part of the Functional Core - all functions are pure with no I/O.
package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/apppublish/internal/core/domain"
)

// DefaultDevServicesPort is used when a server instance does not report one.
const DefaultDevServicesPort = 7049

// Select picks the publish transport for a target.
//
//	cloud tenant                          -> http
//	local server, dev endpoint requested  -> http
//	local server, running instance        -> session
//	local server, no running instance     -> ErrUnsupportedTarget
//
// Global scope can only be published through a session; asking for it over
// http fails with ErrInvalidScope.
func Select(target domain.Target, server *domain.ServerInstance, opts domain.PublishOptions) (domain.TransportKind, error) {
	var kind domain.TransportKind

	switch target.Kind() {
	case domain.TargetCloudTenant:
		kind = domain.TransportHTTP
	default:
		if server == nil || !server.Running {
			name := ""
			if target.Local != nil {
				name = target.Local.InstanceName
			}
			return "", fmt.Errorf("%w: server instance %q is not running and no cloud tenant was given",
				domain.ErrUnsupportedTarget, name)
		}
		if opts.UseDevEndpoint {
			kind = domain.TransportHTTP
		} else {
			kind = domain.TransportSession
		}
	}

	if kind == domain.TransportHTTP && opts.Scope == domain.ScopeGlobal {
		return "", fmt.Errorf("%w: the dev endpoint only publishes tenant scoped apps", domain.ErrInvalidScope)
	}
	return kind, nil
}

// DevEndpointURL returns the base URL of the dev endpoint for a target.
//
//	local: http(s)://{host}:{port}/{serviceName}
//	cloud: {baseUrl}/v2.0/{tenantId}/{environment}
func DevEndpointURL(target domain.Target, server *domain.ServerInstance) (string, error) {
	if c := target.Cloud; c != nil {
		if c.BaseURL == "" {
			return "", fmt.Errorf("%w: cloud tenant requires a base URL", domain.ErrUnsupportedTarget)
		}
		if c.Environment == "" {
			return "", fmt.Errorf("%w: cloud tenant requires an environment", domain.ErrUnsupportedTarget)
		}
		parts := []string{strings.TrimRight(c.BaseURL, "/"), "v2.0"}
		if c.TenantID != "" {
			parts = append(parts, url.PathEscape(c.TenantID))
		}
		parts = append(parts, url.PathEscape(c.Environment))
		return strings.Join(parts, "/"), nil
	}

	if server == nil {
		return "", fmt.Errorf("%w: no server instance", domain.ErrUnsupportedTarget)
	}
	host := server.Host
	if host == "" {
		host = server.Name
	}
	if host == "" {
		return "", fmt.Errorf("%w: server instance has no host", domain.ErrUnsupportedTarget)
	}
	service := server.ServiceName
	if service == "" {
		return "", fmt.Errorf("%w: server instance %s has no service name", domain.ErrUnsupportedTarget, server.Name)
	}

	port := server.DevServicesPort
	if port == 0 {
		port = DefaultDevServicesPort
	}
	scheme := "http"
	if server.DevEndpointTLS {
		scheme = "https"
	}

	u := url.URL{
		Scheme: scheme,
		Host:   host + ":" + strconv.Itoa(port),
		Path:   "/" + service,
	}
	return u.String(), nil
}
