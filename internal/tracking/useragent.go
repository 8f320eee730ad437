package tracking

import (
	"regexp"
	"strings"
)

// ClientInfo is what the pipeline keeps about the client that touched a
// tracking endpoint. Stored as event metadata for engagement reporting.
type ClientInfo struct {
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	DeviceType     string
}

var (
	chromeVerRe  = regexp.MustCompile(`chrome/([\d.]+)`)
	firefoxVerRe = regexp.MustCompile(`firefox/([\d.]+)`)
	safariVerRe  = regexp.MustCompile(`version/([\d.]+)`)
	edgeVerRe    = regexp.MustCompile(`edge?/([\d.]+)`)
	operaVerRe   = regexp.MustCompile(`opera/([\d.]+)`)
	macVerRe     = regexp.MustCompile(`mac os x ([\d_.]+)`)
	androidVerRe = regexp.MustCompile(`android ([\d.]+)`)
	iosVerRe     = regexp.MustCompile(`os ([\d_]+)`)
	mobileRe     = regexp.MustCompile(`mobile|android|iphone|ipod|blackberry|windows phone`)
	tabletRe     = regexp.MustCompile(`tablet|ipad|kindle|silk`)
)

// ParseUserAgent extracts browser, OS and device class from a raw
// user-agent header. Unknown agents come back as Unknown/Desktop rather
// than an error; tracking endpoints never reject a request over this.
func ParseUserAgent(ua string) ClientInfo {
	info := ClientInfo{
		Browser:        "Unknown",
		BrowserVersion: "Unknown",
		OS:             "Unknown",
		OSVersion:      "Unknown",
		DeviceType:     "Desktop",
	}
	if ua == "" {
		return info
	}
	ua = strings.ToLower(ua)

	switch {
	case strings.Contains(ua, "chrome") && !strings.Contains(ua, "edge"):
		info.Browser = "Chrome"
		if m := chromeVerRe.FindStringSubmatch(ua); m != nil {
			info.BrowserVersion = m[1]
		}
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
		if m := firefoxVerRe.FindStringSubmatch(ua); m != nil {
			info.BrowserVersion = m[1]
		}
	case strings.Contains(ua, "safari") && !strings.Contains(ua, "chrome"):
		info.Browser = "Safari"
		if m := safariVerRe.FindStringSubmatch(ua); m != nil {
			info.BrowserVersion = m[1]
		}
	case strings.Contains(ua, "edge"):
		info.Browser = "Edge"
		if m := edgeVerRe.FindStringSubmatch(ua); m != nil {
			info.BrowserVersion = m[1]
		}
	case strings.Contains(ua, "opera"):
		info.Browser = "Opera"
		if m := operaVerRe.FindStringSubmatch(ua); m != nil {
			info.BrowserVersion = m[1]
		}
	}

	switch {
	case strings.Contains(ua, "windows nt"):
		info.OS = "Windows"
		switch {
		case strings.Contains(ua, "windows nt 10.0"):
			info.OSVersion = "10/11"
		case strings.Contains(ua, "windows nt 6.3"):
			info.OSVersion = "8.1"
		case strings.Contains(ua, "windows nt 6.2"):
			info.OSVersion = "8"
		case strings.Contains(ua, "windows nt 6.1"):
			info.OSVersion = "7"
		}
	case strings.Contains(ua, "mac os x") || strings.Contains(ua, "macos"):
		info.OS = "macOS"
		if m := macVerRe.FindStringSubmatch(ua); m != nil {
			info.OSVersion = strings.ReplaceAll(m[1], "_", ".")
		}
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
		if strings.Contains(ua, "ubuntu") {
			info.OSVersion = "Ubuntu"
		}
	case strings.Contains(ua, "android"):
		info.OS = "Android"
		if m := androidVerRe.FindStringSubmatch(ua); m != nil {
			info.OSVersion = m[1]
		}
	case strings.Contains(ua, "iphone os") || strings.Contains(ua, "ios"):
		info.OS = "iOS"
		if m := iosVerRe.FindStringSubmatch(ua); m != nil {
			info.OSVersion = strings.ReplaceAll(m[1], "_", ".")
		}
	}

	switch {
	case mobileRe.MatchString(ua):
		info.DeviceType = "Mobile"
	case tabletRe.MatchString(ua):
		info.DeviceType = "Tablet"
	}

	return info
}

// Metadata flattens the client info into event metadata fields.
func (c ClientInfo) Metadata(userAgent, ip string) map[string]string {
	return map[string]string{
		"browser":         c.Browser,
		"browser_version": c.BrowserVersion,
		"os":              c.OS,
		"os_version":      c.OSVersion,
		"device_type":     c.DeviceType,
		"user_agent":      userAgent,
		"ip_address":      ip,
	}
}
