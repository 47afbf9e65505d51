package urlfilter

import "strings"

// deniedExtensions lists path suffixes of non-HTML resources that are never
// worth fetching. Matching is case-sensitive.
var deniedExtensions = []string{
	// audio and video
	".3g2", ".3gp", ".aif", ".avi", ".cda", ".flv", ".h264", ".m4v", ".mid", ".midi",
	".mov", ".mp3", ".mp4", ".mpa", ".mpg", ".mpeg", ".ogg", ".swf", ".vob", ".wav",
	".wma", ".wmv", ".wpl",
	// archives and disc images
	".7z", ".arj", ".deb", ".dmg", ".iso", ".pkg", ".rar", ".rpm", ".tar", ".tar.gz",
	".toast", ".vcd", ".z", ".zip",
	// executables and packages
	".apk", ".bat", ".bin", ".com", ".exe", ".gadget", ".jar", ".msi", ".wsf",
	// images
	".ai", ".bmp", ".gif", ".ico", ".jpg", ".jpeg", ".png", ".ps", ".psd", ".svg",
	".tif", ".tiff",
	// documents
	".doc", ".docx", ".odt", ".ods", ".pdf", ".ppt", ".pptx", ".rtf", ".tex", ".wpd",
	".xls", ".xlsx",
	// mail and contacts
	".email", ".eml", ".emlx", ".msg", ".oft", ".ost", ".pst", ".vcf",
	// fonts
	".fnt", ".fon", ".otf", ".ttf",
	// data dumps
	".csv", ".dat", ".db", ".dbf", ".log", ".mdb", ".sql", ".txt", ".xml",
}

func deniedSuffix(path string) (string, bool) {
	for _, ext := range deniedExtensions {
		if strings.HasSuffix(path, ext) {
			return ext, true
		}
	}
	return "", false
}
