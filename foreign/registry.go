// Registry adapts the teacher's infra/consul client (infra/consul/consul.go)
// into the cluster-membership directory a foreign Transport needs: given the
// frameworkIndex a foreign.Hook is asked to deliver to, where does that
// remote Framework's process actually listen for TCP envelope delivery?
// frameworkIndex is treated as the cluster-wide routing key -- each running
// Framework registers itself under its own frameworkIndex, so Resolve never
// needs the rest of a packed Address to find it.
package foreign

import (
	"fmt"
	"strconv"

	consulx "github.com/phuhao00/theron/infra/consul"
)

// ServiceNamePrefix namespaces Theron's own service registrations in Consul
// so they don't collide with an application's other services sharing the
// same Consul agent.
const ServiceNamePrefix = "theron-framework-"

// Registry resolves a destination frameworkIndex to a dialable TCP address
// via Consul service discovery, and registers this process's own listener
// so peers can find it.
type Registry struct {
	client        *consulx.ConsulClient
	selfID        string
	selfFramework uint16
}

// NewRegistry wraps an already-constructed Consul client. selfFramework is
// this process's own frameworkIndex; selfID is a unique service registration
// ID, caller-supplied since minting one (uuid, Snowflake, whatever a given
// deployment already uses) isn't this package's concern.
func NewRegistry(client *consulx.ConsulClient, selfFramework uint16, selfID string) *Registry {
	return &Registry{client: client, selfID: selfID, selfFramework: selfFramework}
}

// serviceName is the Consul service name a given frameworkIndex is
// registered under.
func serviceName(frameworkIndex uint16) string {
	return fmt.Sprintf("%s%d", ServiceNamePrefix, frameworkIndex)
}

// Announce registers this process's TCP listener address under its own
// frameworkIndex's service name, so other frameworks can later resolve it.
func (r *Registry) Announce(listenAddr string, port int) error {
	return r.client.RegisterService(r.selfID, serviceName(r.selfFramework), listenAddr, port)
}

// Withdraw deregisters this process's announcement, typically called during
// Framework shutdown.
func (r *Registry) Withdraw() error {
	return r.client.DeregisterService(r.selfID)
}

// Resolve returns a dialable "host:port" for the Theron process registered
// under the given frameworkIndex, or an error if none are healthy.
func (r *Registry) Resolve(frameworkIndex uint16) (string, error) {
	services, err := r.client.GetHealthyServices(serviceName(frameworkIndex))
	if err != nil {
		return "", fmt.Errorf("resolving framework %d: %w", frameworkIndex, err)
	}
	if len(services) == 0 {
		return "", fmt.Errorf("no healthy theron framework registered for framework index %d", frameworkIndex)
	}
	svc := services[0]
	return svc.Address + ":" + strconv.Itoa(svc.Port), nil
}
