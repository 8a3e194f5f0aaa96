package arcgis

// Config holds ArcGIS OAuth configuration.
type Config struct {
	ClientID       string `env:"ARCGIS_CLIENT_ID,required"`
	ClientSecret   string `env:"ARCGIS_CLIENT_SECRET" envDefault:""`
	SignupClientID string `env:"ARCGIS_SIGNUP_CLIENT_ID" envDefault:""`
	PortalURL      string `env:"ARCGIS_PORTAL_URL" envDefault:"https://www.arcgis.com"`
	RedirectURL    string `env:"ARCGIS_REDIRECT_URL" envDefault:""`
}
