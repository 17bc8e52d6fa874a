package sim

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/grokify/omnicas"
)

// pool is an open connection string.
type pool struct {
	conn     string
	clusters []*cluster
	profile  string
	caps     map[string]string

	mu          sync.Mutex
	options     map[string]int64
	profileClip string
}

func (p *pool) primary() *cluster { return p.clusters[0] }

func (p *pool) option(name string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.options[name]
}

func (p *pool) failover() bool {
	return p.option(omnicas.PoolOptionMultiClusterFailOver) != 0
}

// capability resolves name/attr through the profile, the cluster and the
// defaults.
func (p *pool) capability(name, attr string) (string, bool) {
	key := name + "/" + attr
	if v, ok := p.caps[key]; ok {
		return v, true
	}
	if v, ok := p.primary().config.Capabilities[key]; ok {
		return v, true
	}
	v, ok := defaultCapabilities[key]
	return v, ok
}

// secondsCapability parses a capability holding seconds, or returns def.
func (p *pool) secondsCapability(name, attr string, def int64) int64 {
	v, ok := p.capability(name, attr)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (p *pool) supported(name, attr string) bool {
	v, _ := p.capability(name, attr)
	return v == omnicas.CapabilitySupported || v == omnicas.CapabilityTrue
}

func (p *pool) allowed(name string) bool {
	v, _ := p.capability(name, omnicas.AttrAllowed)
	return v == omnicas.CapabilityTrue
}

// parseConnectionString splits "addr1,addr2?name=profile".
func parseConnectionString(conn string) (addrs []string, profile string, err error) {
	hosts, query, _ := strings.Cut(conn, "?")
	for _, a := range strings.Split(hosts, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return nil, "", err
		}
		profile = values.Get("name")
	}
	return addrs, profile, nil
}

func (e *Engine) resolve(addr string) *cluster {
	if c, ok := e.clusters[addr]; ok {
		return c
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return e.clusters[host]
	}
	return nil
}

// PoolOpen implements omnicas.PoolEngine.
func (e *Engine) PoolOpen(ctx context.Context, conn string) (omnicas.Handle, error) {
	e.clearLastError()
	if err := ctx.Err(); err != nil {
		return 0, e.storeFailure(err, omnicas.ErrCodeNoPool)
	}
	addrs, profile, err := parseConnectionString(conn)
	if err != nil || len(addrs) == 0 {
		return 0, e.fail(omnicas.ErrCodeInvalidName, "invalid connection string %q", conn)
	}

	p := &pool{
		conn: conn,
		options: map[string]int64{
			omnicas.PoolOptionTimeout:              120000,
			omnicas.PoolOptionClipBufferSize:       16 * 1024,
			omnicas.PoolOptionPrefetchBufferSize:   32 * 1024,
			omnicas.PoolOptionMultiClusterFailOver: 1,
			omnicas.PoolOptionCollisionAvoidance:   0,
		},
	}
	for _, a := range addrs {
		if c := e.resolve(a); c != nil {
			p.clusters = append(p.clusters, c)
		}
	}
	if len(p.clusters) == 0 {
		return 0, e.fail(omnicas.ErrCodeNoPool, "no cluster reachable at %q", conn)
	}

	if profile != "" {
		prof, ok := p.primary().config.Profiles[profile]
		if !ok {
			return 0, e.fail(omnicas.ErrCodeAuthentication, "unknown profile %q", profile)
		}
		p.profile = profile
		p.caps = prof.Capabilities
		p.profileClip = prof.ProfileClip
	}

	h := e.alloc(p)
	e.logger.Debug("pool opened",
		slog.String("conn", conn),
		slog.String("primary", p.primary().config.Address),
		slog.String("profile", profile))
	return h, nil
}

// PoolClose implements omnicas.PoolEngine.
func (e *Engine) PoolClose(h omnicas.Handle) error {
	e.clearLastError()
	if _, err := lookup[*pool](e, h); err != nil {
		return err
	}
	e.release(h)
	return nil
}

// PoolSetOption implements omnicas.PoolEngine.
func (e *Engine) PoolSetOption(h omnicas.Handle, name string, value int64) error {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.options[name]; !ok {
		return e.fail(omnicas.ErrCodeUnknownOption, "unknown pool option %q", name)
	}
	if value < 0 {
		return e.fail(omnicas.ErrCodeParamErr, "pool option %s: negative value", name)
	}
	p.options[name] = value
	return nil
}

// PoolOption implements omnicas.PoolEngine.
func (e *Engine) PoolOption(h omnicas.Handle, name string) (int64, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.options[name]
	if !ok {
		return 0, e.fail(omnicas.ErrCodeUnknownOption, "unknown pool option %q", name)
	}
	return v, nil
}

// PoolInfo implements omnicas.PoolEngine.
func (e *Engine) PoolInfo(h omnicas.Handle) (omnicas.PoolInfo, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return omnicas.PoolInfo{}, err
	}
	c := p.primary()
	used, err := c.used(context.Background())
	if err != nil {
		return omnicas.PoolInfo{}, e.storeFailure(err, omnicas.ErrCodeServer)
	}
	info := omnicas.PoolInfo{
		Capacity:    c.config.Capacity,
		FreeSpace:   max(c.config.Capacity-used, 0),
		ClusterID:   c.config.ID,
		ClusterName: c.config.Name,
		Version:     c.config.Version,
	}
	if c.replica != nil {
		info.ReplicaAddress = c.replica.config.Address
	}
	return info, nil
}

// PoolCapability implements omnicas.PoolEngine.
func (e *Engine) PoolCapability(h omnicas.Handle, name, attr string, buf []byte) (int, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return 0, err
	}
	v, ok := p.capability(name, attr)
	if !ok {
		return 0, e.fail(omnicas.ErrCodeAttrNotFound, "capability %s/%s", name, attr)
	}
	return omnicas.CopyOut(v, buf), nil
}

// PoolClusterTime implements omnicas.PoolEngine.
func (e *Engine) PoolClusterTime(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	if _, err := lookup[*pool](e, h); err != nil {
		return 0, err
	}
	return omnicas.CopyOut(omnicas.FormatClusterTime(e.clock.Now()), buf), nil
}

// PoolProfileClip implements omnicas.PoolEngine.
func (e *Engine) PoolProfileClip(h omnicas.Handle, buf []byte) (int, error) {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	id := p.profileClip
	p.mu.Unlock()
	if id == "" {
		return 0, e.fail(omnicas.ErrCodeProfileClipNotFound, "pool has no profile clip")
	}
	return omnicas.CopyOut(id, buf), nil
}

// PoolSetProfileClip implements omnicas.PoolEngine.
func (e *Engine) PoolSetProfileClip(h omnicas.Handle, id string) error {
	e.clearLastError()
	p, err := lookup[*pool](e, h)
	if err != nil {
		return err
	}
	if id != "" {
		if !validAddress(id) {
			return e.fail(omnicas.ErrCodeParamErr, "invalid clip id %q", id)
		}
		ok, err := p.primary().exists(context.Background(), e, prefixClips+id, p.failover())
		if err != nil {
			return e.storeFailure(err, omnicas.ErrCodeClipNotFound)
		}
		if !ok {
			return e.fail(omnicas.ErrCodeClipNotFound, "clip %s", id)
		}
	}
	p.mu.Lock()
	p.profileClip = id
	p.mu.Unlock()
	return nil
}

// checkAllowed fails when the pool's capability forbids an operation.
func (e *Engine) checkAllowed(p *pool, capability string) error {
	if !p.allowed(capability) {
		return e.fail(omnicas.ErrCodeOperationNotAllowed, "%s is not allowed on pool %q", capability, p.conn)
	}
	return nil
}
