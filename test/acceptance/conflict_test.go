package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// Work carries an uncommitted local edit while Production was also
// edited directly (uncommitted) on the same path. Download must leave
// Work's copy untouched and report the conflict rather than silently
// picking a side.
var _ = Describe("conflicted download", func() {
	var tmpDir, prodDir, workDir, templatePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cccopy-conflict-*")
		Expect(err).NotTo(HaveOccurred())

		prodDir = filepath.Join(tmpDir, "production")
		workDir = filepath.Join(tmpDir, "work")
		templatePath = filepath.Join(tmpDir, "template.ini")

		Expect(os.MkdirAll(prodDir, 0755)).To(Succeed())
		writeTemplate(templatePath, prodDir, workDir, currentGroupName(), 1)

		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")
	})

	AfterEach(func() {
		cleanupTestDir(tmpDir)
	})

	It("surfaces the conflicted path and leaves Work's copy untouched", func() {
		out, err := exec.Command(binaryPath, "download", "--template", templatePath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "bootstrap download: %s", string(out))

		writeFile(filepath.Join(workDir, "src", "a.txt"), "X")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "Y")

		cmd := exec.Command(binaryPath, "download", "--template", templatePath)
		out, err = cmd.CombinedOutput()
		Expect(err).To(HaveOccurred(), "a conflicted download must exit non-zero")
		Expect(string(out)).To(ContainSubstring("src/a.txt"))

		got, err := os.ReadFile(filepath.Join(workDir, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("X"), "work's copy must be untouched by a conflicted path")

		prodContent, err := os.ReadFile(filepath.Join(prodDir, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(prodContent)).To(Equal("Y"), "production's uncommitted direct edit is untouched by Download")
	})
})
