package engine

// Stage is a state of the packaging pipeline.
type Stage string

// Pipeline states, in the order a successful build passes through them.
// StageTranslationsConverted and StageVerified are skipped when disabled.
const (
	StageInit                  Stage = "init"
	StageStagingCreated        Stage = "staging_created"
	StageFilesCopied           Stage = "files_copied"
	StageTranslationsConverted Stage = "translations_converted"
	StageManifestPatched       Stage = "manifest_patched"
	StageArchived              Stage = "archived"
	StageVerified              Stage = "verified"
	StageCleanedUp             Stage = "cleaned_up"
	StageFailed                Stage = "failed"
)

// Action describes the work that leads into s.
func (s Stage) Action() string {
	switch s {
	case StageStagingCreated:
		return "creating staging directory"
	case StageFilesCopied:
		return "copying files"
	case StageTranslationsConverted:
		return "converting translations"
	case StageManifestPatched:
		return "patching manifest"
	case StageArchived:
		return "creating archive"
	case StageVerified:
		return "verifying archive"
	case StageCleanedUp:
		return "removing staging directory"
	case StageInit:
		return "preparing build"
	default:
		return string(s)
	}
}
