package mediaerr

// Remediation is the user-facing information rendered for an error kind.
type Remediation struct {
	// Message is the human readable explanation.
	Message string

	// Retry is true when offering a retry action makes sense.
	Retry bool

	// Steps are concrete troubleshooting steps. Permission and hardware
	// errors always have at least one.
	Steps []string
}

var remediations = map[Kind]Remediation{
	KindPermissionDenied: {
		Message: "Access to the microphone or camera was denied.",
		Retry:   false,
		Steps: []string{
			"Allow microphone access for this application in the system privacy settings.",
			"On Linux, make sure your user belongs to the audio group.",
			"Restart the application after changing the permission.",
		},
	},
	KindNoDeviceFound: {
		Message: "No microphone was found.",
		Retry:   true,
		Steps: []string{
			"Connect a microphone or headset and wait a few seconds.",
			"Reconnect the USB device or try another port.",
			"Check that a Bluetooth headset is connected in headset (not music only) mode.",
		},
	},
	KindDeviceUnavailable: {
		Message: "The selected device could not be opened.",
		Retry:   true,
		Steps: []string{
			"Select another device from the list.",
			"Close other applications that may be using the device.",
			"Reconnect the device.",
		},
	},
	KindEnumerationFailed: {
		Message: "Something went wrong while looking for audio devices.",
		Retry:   true,
		Steps: []string{
			"Try again.",
		},
	},
	KindAudioUnavailable: {
		Message: "The session recording could not be loaded.",
		Retry:   true,
		Steps: []string{
			"Check your connection and reload the session.",
		},
	},
}

// RemediationFor returns the remediation for the given kind. Unknown kinds
// get the generic retry remediation.
func RemediationFor(kind Kind) Remediation {
	if r, ok := remediations[kind]; ok {
		return r
	}
	return remediations[KindEnumerationFailed]
}

// RemediationForErr returns the remediation for the given error.
func RemediationForErr(err error) Remediation {
	return RemediationFor(KindOf(err, KindEnumerationFailed))
}
