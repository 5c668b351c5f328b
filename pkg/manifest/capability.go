// Package manifest resolves the permissions and components an application
// needs from the platform APIs it uses, and renders AndroidManifest.xml.
package manifest

import "sort"

// Capability is a platform API whose use implies manifest requirements.
type Capability int

const (
	GeolocationWatchPosition Capability = iota + 1
	GeolocationGetCurrentPosition
	GeolocationWatchHeading
	GeolocationGetCurrentHeading
	MediaVibrate
	MediaCreateVideoPlayer
	MediaShowCamera
	ContactsCreateContact
	ContactsSaveContact
	ContactsRemoveContact
	ContactsAddContact
	ContactsGetAllContacts
	ContactsShowContactPicker
	MapCreateView
	FacebookSetup
	FacebookLogin
	FacebookCreateLoginButton
)

var capabilityNames = map[Capability]string{
	GeolocationWatchPosition:      "Geolocation.watchPosition",
	GeolocationGetCurrentPosition: "Geolocation.getCurrentPosition",
	GeolocationWatchHeading:       "Geolocation.watchHeading",
	GeolocationGetCurrentHeading:  "Geolocation.getCurrentHeading",
	MediaVibrate:                  "Media.vibrate",
	MediaCreateVideoPlayer:        "Media.createVideoPlayer",
	MediaShowCamera:               "Media.showCamera",
	ContactsCreateContact:         "Contacts.createContact",
	ContactsSaveContact:           "Contacts.saveContact",
	ContactsRemoveContact:         "Contacts.removeContact",
	ContactsAddContact:            "Contacts.addContact",
	ContactsGetAllContacts:        "Contacts.getAllContacts",
	ContactsShowContactPicker:     "Contacts.showContactPicker",
	MapCreateView:                 "Map.createView",
	FacebookSetup:                 "Facebook.setup",
	FacebookLogin:                 "Facebook.login",
	FacebookCreateLoginButton:     "Facebook.createLoginButton",
}

var capabilitiesByName = func() map[string]Capability {
	out := make(map[string]Capability, len(capabilityNames))
	for c, name := range capabilityNames {
		out[name] = c
	}
	return out
}()

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseCapability maps a "Module.method" name to its capability.
func ParseCapability(name string) (Capability, bool) {
	c, ok := capabilitiesByName[name]
	return c, ok
}

// Normalize deduplicates caps and orders them by declaration, so any
// permutation of the same set resolves identically.
func Normalize(caps []Capability) []Capability {
	seen := make(map[Capability]struct{}, len(caps))
	out := make([]Capability, 0, len(caps))
	for _, c := range caps {
		if _, ok := capabilityNames[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
