// Package arcgis implements the OAuth2 authorization-code flow against an
// ArcGIS portal and resolves the authenticated account into provider-agnostic
// identity attributes.
//
// The package targets arcgis.com by default and supports on-premises Portal
// for ArcGIS deployments via Config.PortalURL. ArcGIS reports request errors
// inside HTTP 200 responses; both transport failures and embedded error
// envelopes surface as sentinel errors with the "arcgis:" prefix.
//
// Usage:
//
//	provider, err := arcgis.NewProvider(arcgis.Config{
//		ClientID:    os.Getenv("ARCGIS_CLIENT_ID"),
//		RedirectURL: "https://portal.example.com/auth/callback",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	url := provider.AuthCodeURL("random-state-string", "")
//
//	// In the callback handler:
//	token, err := provider.Exchange(ctx, code, "")
//	user, err := provider.FetchUserInfo(ctx, token)
//
// Always validate the state parameter in the callback before calling
// Exchange; the caller owns state generation and verification.
package arcgis
