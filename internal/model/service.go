package model

// Services lists the upstream services fronted by the gateway.
var Services = []string{"jira", "bitbucket", "slack", "gmail", "gdrive", "gcalendar"}

// IsService reports whether name is one of Services.
func IsService(name string) bool {
	for _, s := range Services {
		if s == name {
			return true
		}
	}
	return false
}

// Methods lists the HTTP methods the gateway forwards upstream.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// IsMethod reports whether m is one of Methods. Comparison is exact; callers
// upper-case first.
func IsMethod(m string) bool {
	for _, v := range Methods {
		if v == m {
			return true
		}
	}
	return false
}
