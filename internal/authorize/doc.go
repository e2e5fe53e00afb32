// Package authorize builds OAuth2 implicit-flow authorize requests and parses
// the redirects that answer them.
//
// Every request carries a freshly generated state. Login requests use a bare
// UUID; silent renewal requests encode the resource as "<uuid>|<resource>" so
// the resource can be recovered from the response alone:
//
//	b := authorize.NewBuilder(cfg, store)
//	req := b.LoginRequest(startPage)   // state and nonce persisted
//	renew := b.RenewRequest("graph")   // prompt=none, hints from cached UPN
//	resource, _ := authorize.ResourceFromState(renew.State)
//
// # Wire Format
//
// Query parameters are written in a fixed order expected by the identity
// provider:
//
//	response_type, client_id, [resource], redirect_uri, state, [slice],
//	[extra], client-request-id, [nonce], [prompt], [login_hint],
//	[domain_hint], x-client-SKU, x-client-Ver
//
// Values are percent-encoded individually. The configured extra query
// parameter is inserted verbatim and must already be encoded.
//
// # Responses
//
// ParseResponse accepts the redirect URL, its fragment or its query string and
// yields a Response; Response.Token converts a success into an oauth2.Token.
package authorize
