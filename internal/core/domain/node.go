package domain

// NodeView describes a remote proxy engine supplied to connectNode. It is
// a point-in-time descriptor; the dispatcher owns no copy of it beyond the
// connection attempt.
type NodeView struct {
	ID       int
	Name     string
	Address  string
	RESTPort int
	RPCPort  int
}

// InboundCatalog maps an inbound tag to its transport/TLS parameters, as
// queried from the main core's configuration at fan-out time.
type InboundCatalog map[string]Inbound

// Tags returns every tag known to the catalog.
func (c InboundCatalog) Tags() []string {
	tags := make([]string, 0, len(c))
	for tag := range c {
		tags = append(tags, tag)
	}
	return tags
}
