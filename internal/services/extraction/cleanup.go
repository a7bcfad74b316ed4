package extraction

import (
	"regexp"
	"strings"
)

// Layer-1 structural cleanup. Removes markup noise that carries no facts
// while keeping every token that might. The heavier cross-page boilerplate
// strip is a separate layer owned by the boilerplate engine.
var (
	trackerImages = regexp.MustCompile(`!\[[^\]]*\]\([^)]*(?:pixel|track|beacon|analytics|utm_)[^)]*\)`)
	inlineImages  = regexp.MustCompile(`!\[\]\([^)]*\)`)
	scriptBlocks  = regexp.MustCompile(`(?is)<script.*?</script>`)
	bareLinkLine  = regexp.MustCompile(`^\s*(?:[-*]\s*)?\[[^\]]{0,40}\]\([^)]*\)\s*$`)
	newlineRuns   = regexp.MustCompile(`\n{3,}`)
)

// navClusterMin is how many consecutive bare-link lines count as a nav
// cluster rather than a reference list worth keeping.
const navClusterMin = 3

// CleanStructural strips trackers, empty images, script remnants and
// nav-link clusters from markdown.
func CleanStructural(content string) string {
	content = scriptBlocks.ReplaceAllString(content, "")
	content = trackerImages.ReplaceAllString(content, "")
	content = inlineImages.ReplaceAllString(content, "")
	content = dropNavClusters(content)
	return newlineRuns.ReplaceAllString(content, "\n\n")
}

// dropNavClusters removes runs of navClusterMin or more consecutive lines
// that are nothing but a short link.
func dropNavClusters(content string) string {
	lines := strings.Split(content, "\n")
	keep := make([]bool, len(lines))
	for i := range keep {
		keep[i] = true
	}

	runStart := -1
	flushRun := func(end int) {
		if runStart >= 0 && end-runStart >= navClusterMin {
			for i := runStart; i < end; i++ {
				keep[i] = false
			}
		}
		runStart = -1
	}
	for i, line := range lines {
		if bareLinkLine.MatchString(line) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flushRun(i)
	}
	flushRun(len(lines))

	var b strings.Builder
	for i, line := range lines {
		if !keep[i] {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
	}
	return b.String()
}
