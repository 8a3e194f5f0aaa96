// Package cookie provides encrypted, authenticated cookies for values that
// must round-trip through the browser without being readable or forgeable:
// OAuth flow state, anti-forgery tokens, and session material.
//
// Values are JSON-encoded and sealed with AES-GCM under a key derived from
// the configured secret. A tampered or re-keyed cookie fails with ErrDecrypt.
//
//	cookies, err := cookie.New(os.Getenv("PORTAL_COOKIE_SECRET"),
//		cookie.WithSecure(true),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = cookies.Set(w, "oauth_flow", state, 600)
//
//	var state flowState
//	err = cookies.Get(r, "oauth_flow", &state)
package cookie
