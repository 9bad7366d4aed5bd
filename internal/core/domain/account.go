package domain

import "strconv"

// Flow identifies an XTLS flow control mode carried on a proxy account.
type Flow string

const (
	FlowNone      Flow = ""
	FlowVision    Flow = "xtls-rprx-vision"
	FlowVisionUDP Flow = "xtls-rprx-vision-udp443"
)

// InboundNetwork and InboundTLS describe the transport an inbound is bound
// to, which gates whether a flow can actually be honoured.
type InboundNetwork string

const (
	NetworkTCP         InboundNetwork = "tcp"
	NetworkKCP         InboundNetwork = "kcp"
	NetworkWebsocket   InboundNetwork = "ws"
	NetworkGRPC        InboundNetwork = "grpc"
	NetworkHTTPUpgrade InboundNetwork = "httpupgrade"
)

type InboundTLS string

const (
	TLSNone    InboundTLS = "none"
	TLSOn      InboundTLS = "tls"
	TLSReality InboundTLS = "reality"
)

// Inbound is the subset of an inbound's configuration the account builder
// needs to decide whether a requested flow may be honoured.
type Inbound struct {
	Tag        string
	Network    InboundNetwork
	TLS        InboundTLS
	HeaderType string
}

// Account is the per-inbound proxy credential sent to a node in an
// AlterInbound call. Settings holds the proxy-type-specific fields
// (id/alterId/password/...) that the caller already resolved; Account only
// owns the identity and the flow-gating concern.
type Account struct {
	Email    string
	Flow     Flow
	Settings map[string]any
}

// BuildAccount applies the XTLS flow-gating rule: a flow only survives if the
// inbound runs over tcp/kcp, uses tls or reality security, and isn't HTTP
// obfuscated. Any other combination silently resets the flow to none, which
// mirrors what a real client would negotiate anyway.
func BuildAccount(email string, flow Flow, settings map[string]any, inbound Inbound) Account {
	acct := Account{
		Email:    email,
		Flow:     flow,
		Settings: settings,
	}

	if acct.Flow == FlowNone {
		return acct
	}

	network := inbound.Network
	if network == "" {
		network = NetworkTCP
	}

	transportOK := network == NetworkTCP || network == NetworkKCP
	tlsOK := inbound.TLS == TLSOn || inbound.TLS == TLSReality
	httpObfuscated := inbound.HeaderType == "http"

	if !transportOK || !tlsOK || httpObfuscated {
		acct.Flow = FlowNone
	}

	return acct
}

// Email derives the identity string the dispatcher uses to address a user
// on an inbound: "{user_id}.{username}".
func Email(userID int, username string) string {
	return strconv.Itoa(userID) + "." + username
}
