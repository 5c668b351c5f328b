package manifest

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Permission is the suffix of an android.permission.* name.
type Permission string

// Component is an extra manifest declaration some capabilities need.
type Component struct {
	Name string
	XML  string
	// RequiresGoogleAPIs marks components that only work on targets with the
	// Google APIs add-on.
	RequiresGoogleAPIs bool
}

// BasePermissions are always requested.
var BasePermissions = []Permission{
	"INTERNET",
	"ACCESS_WIFI_STATE",
	"ACCESS_NETWORK_STATE",
	"WRITE_EXTERNAL_STORAGE",
}

var (
	geoPermissions     = []Permission{"ACCESS_COARSE_LOCATION", "ACCESS_FINE_LOCATION", "ACCESS_MOCK_LOCATION"}
	contactPermissions = []Permission{"READ_CONTACTS"}
	vibratePermissions = []Permission{"VIBRATE"}
	cameraPermissions  = []Permission{"CAMERA"}
)

var (
	videoActivity = &Component{
		Name: "ti.modules.titanium.media.TiVideoActivity",
		XML: `<activity
		android:name="ti.modules.titanium.media.TiVideoActivity"
		android:configChanges="keyboardHidden|orientation"
		android:launchMode="singleTask"
	/>`,
	}
	mapActivity = &Component{
		Name: "ti.modules.titanium.map.TiMapActivity",
		XML: `<activity
		android:name="ti.modules.titanium.map.TiMapActivity"
		android:configChanges="keyboardHidden|orientation"
		android:launchMode="singleTask"
	/>
	<uses-library android:name="com.google.android.maps" />`,
		RequiresGoogleAPIs: true,
	}
	facebookActivity = &Component{
		Name: "ti.modules.titanium.facebook.FBActivity",
		XML: `<activity
		android:name="ti.modules.titanium.facebook.FBActivity"
		android:theme="@android:style/Theme.Translucent.NoTitleBar"
	/>`,
	}
)

type requirement struct {
	permissions []Permission
	component   *Component
}

var requirements = map[Capability]requirement{
	GeolocationWatchPosition:      {permissions: geoPermissions},
	GeolocationGetCurrentPosition: {permissions: geoPermissions},
	GeolocationWatchHeading:       {permissions: geoPermissions},
	GeolocationGetCurrentHeading:  {permissions: geoPermissions},
	MediaVibrate:                  {permissions: vibratePermissions},
	MediaCreateVideoPlayer:        {permissions: cameraPermissions, component: videoActivity},
	MediaShowCamera:               {permissions: cameraPermissions},
	ContactsCreateContact:         {permissions: contactPermissions},
	ContactsSaveContact:           {permissions: contactPermissions},
	ContactsRemoveContact:         {permissions: contactPermissions},
	ContactsAddContact:            {permissions: contactPermissions},
	ContactsGetAllContacts:        {permissions: contactPermissions},
	ContactsShowContactPicker:     {permissions: contactPermissions},
	MapCreateView:                 {component: mapActivity},
	FacebookSetup:                 {component: facebookActivity},
	FacebookLogin:                 {component: facebookActivity},
	FacebookCreateLoginButton:     {component: facebookActivity},
}

// Resolution is the outcome of Resolve. Warnings list the components dropped
// because the target lacks Google APIs.
type Resolution struct {
	Permissions []Permission
	Components  []Component
	Warnings    []string
}

// Resolve returns the permissions and components needed by used, each listed
// once in first-seen order after the base permissions. Components that need
// Google APIs are omitted with a warning when googleAPIs is false; the call
// will fail at run time on such a target.
func Resolve(used []Capability, googleAPIs bool) Resolution {
	res := Resolution{Permissions: append([]Permission(nil), BasePermissions...)}
	seenPerm := make(map[Permission]struct{}, len(BasePermissions))
	for _, p := range BasePermissions {
		seenPerm[p] = struct{}{}
	}
	seenComp := make(map[string]struct{})

	for _, c := range Normalize(used) {
		req := requirements[c]
		for _, p := range req.permissions {
			if _, ok := seenPerm[p]; ok {
				continue
			}
			seenPerm[p] = struct{}{}
			res.Permissions = append(res.Permissions, p)
		}
		comp := req.component
		if comp == nil {
			continue
		}
		if comp.RequiresGoogleAPIs && !googleAPIs {
			msg := fmt.Sprintf("Google APIs detected but the selected target doesn't support them; Titanium.%s will fail", c)
			log.Warn().Str("capability", c.String()).Str("component", comp.Name).Msg(msg)
			res.Warnings = append(res.Warnings, msg)
			continue
		}
		if _, ok := seenComp[comp.Name]; ok {
			continue
		}
		seenComp[comp.Name] = struct{}{}
		res.Components = append(res.Components, *comp)
	}
	return res
}

// UsesGoogleAPIs reports whether any resolved component needs the add-on.
func (r Resolution) UsesGoogleAPIs() bool {
	for _, c := range r.Components {
		if c.RequiresGoogleAPIs {
			return true
		}
	}
	return false
}
