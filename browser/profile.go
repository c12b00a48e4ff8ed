package browser

// Defaults are the process-wide browser settings. Chrome paths come from the
// environment only; task requests cannot inject them.
type Defaults struct {
	Headful        bool
	ChromePath     string
	ChromeUserData string
}

// Overrides are the per-task browser settings. Nil pointers mean "use the
// process default".
type Overrides struct {
	Headful         *bool `json:"headful,omitempty"`
	UseCustomChrome *bool `json:"use_custom_chrome,omitempty"`
}

// Profile is the effective configuration an agent is launched with.
type Profile struct {
	Headless       bool   `json:"headless"`
	ChromePath     string `json:"chrome_path,omitempty"`
	ChromeUserData string `json:"chrome_user_data,omitempty"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}

// ResolveProfile merges per-task overrides over process defaults. Task
// values win; use_custom_chrome=false drops the custom Chrome paths
// entirely.
func ResolveProfile(over Overrides, def Defaults) Profile {
	headful := def.Headful
	if over.Headful != nil {
		headful = *over.Headful
	}

	chromePath := def.ChromePath
	chromeUserData := def.ChromeUserData
	if over.UseCustomChrome != nil && !*over.UseCustomChrome {
		chromePath = ""
		chromeUserData = ""
	}

	return Profile{
		Headless:       !headful,
		ChromePath:     chromePath,
		ChromeUserData: chromeUserData,
		ViewportWidth:  1280,
		ViewportHeight: 720,
	}
}

// Info returns the profile as loggable fields.
func (p Profile) Info() map[string]interface{} {
	return map[string]interface{}{
		"headless":         p.Headless,
		"chrome_path":      p.ChromePath,
		"chrome_user_data": p.ChromeUserData,
	}
}
