// README: Premium upgrade eligibility gate.
package commission

import "strings"

const approvedStatus = "approved"

// EligibilityProfile carries the driver attributes the upgrade gate inspects.
type EligibilityProfile struct {
	Status                  string
	LicenseURL              string
	VehicleRegistrationURL  string
	InsuranceCertificateURL string
	MedicalCertificateURL   string
}

// CanUpgradeToPremium reports whether a driver may request the premium tier.
// It does not change any equipment flag.
func CanUpgradeToPremium(p EligibilityProfile) bool {
	if p.Status != approvedStatus {
		return false
	}
	for _, doc := range []string{
		p.LicenseURL,
		p.VehicleRegistrationURL,
		p.InsuranceCertificateURL,
		p.MedicalCertificateURL,
	} {
		if strings.TrimSpace(doc) == "" {
			return false
		}
	}
	return true
}
