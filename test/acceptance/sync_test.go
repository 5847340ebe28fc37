package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// Fresh bootstrap, local edit plus upload, the gitignore guard, and
// save. Each user gets its own Work tree against one shared Production
// tree: many users, one Production, no git server.
var _ = Describe("download/upload/save end-to-end", func() {
	var tmpDir, prodDir, workDir, templatePath string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cccopy-sync-*")
		Expect(err).NotTo(HaveOccurred())

		prodDir = filepath.Join(tmpDir, "production")
		workDir = filepath.Join(tmpDir, "work")
		templatePath = filepath.Join(tmpDir, "template.ini")

		Expect(os.MkdirAll(prodDir, 0755)).To(Succeed())
		writeTemplate(templatePath, prodDir, workDir, currentGroupName(), 1)
	})

	AfterEach(func() {
		cleanupTestDir(tmpDir)
	})

	It("fresh bootstrap leaves Work with Production's content and one commit", func() {
		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")

		cmd := exec.Command(binaryPath, "download", "--template", templatePath)
		out, err := cmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "download output: %s", string(out))

		got, err := os.ReadFile(filepath.Join(workDir, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("A"))

		head := strings.TrimSpace(runGitOutput(workDir, "rev-parse", "HEAD"))
		Expect(head).NotTo(BeEmpty())
	})

	It("a local edit uploads under the invoking user's authorship", func() {
		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")

		downloadCmd := exec.Command(binaryPath, "download", "--template", templatePath)
		out, err := downloadCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "download output: %s", string(out))

		writeFile(filepath.Join(workDir, "src", "a.txt"), "A'")

		uploadCmd := exec.Command(binaryPath, "upload", "--template", templatePath, "-m", "m1")
		out, err = uploadCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "upload output: %s", string(out))

		got, err := os.ReadFile(filepath.Join(prodDir, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("A'"))

		author := strings.TrimSpace(runGitOutput(prodDir, "log", "-1", "--format=%an <%ae>"))
		currentUser := strings.TrimSpace(runGitOutput(tmpDir, "config", "--get", "user.name"))
		_ = currentUser
		Expect(author).To(ContainSubstring("@cccopy.com"))

		committer := strings.TrimSpace(runGitOutput(prodDir, "log", "-1", "--format=%cn <%ce>"))
		Expect(committer).To(Equal("cccopy_admin <admin@cccopy.com>"))
	})

	It("an upload with a modified Work .gitignore restores Production's copy but still uploads the rest", func() {
		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, ".gitignore"), "*.log\n")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")

		downloadCmd := exec.Command(binaryPath, "download", "--template", templatePath)
		out, err := downloadCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "download output: %s", string(out))

		writeFile(filepath.Join(workDir, ".gitignore"), "*.tmp\n")
		writeFile(filepath.Join(workDir, "src", "a.txt"), "A'")

		uploadCmd := exec.Command(binaryPath, "upload", "--template", templatePath, "-m", "m2")
		out, err = uploadCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "upload output: %s", string(out))
		Expect(string(out)).To(ContainSubstring("warning:"))

		prodIgnore, err := os.ReadFile(filepath.Join(prodDir, ".gitignore"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(prodIgnore)).To(Equal("*.log\n"), "production's .gitignore must be untouched")

		workIgnore, err := os.ReadFile(filepath.Join(workDir, ".gitignore"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(workIgnore)).To(Equal("*.log\n"), "work's modified .gitignore must be overwritten by production's")

		gotA, err := os.ReadFile(filepath.Join(prodDir, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(gotA)).To(Equal("A'"), "the rest of the MODIFIED set must still upload")
	})

	It("save commits every pending Work change with no Production lock involved", func() {
		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")

		downloadCmd := exec.Command(binaryPath, "download", "--template", templatePath)
		out, err := downloadCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "download output: %s", string(out))

		writeFile(filepath.Join(workDir, "notes.txt"), "draft")

		saveCmd := exec.Command(binaryPath, "save", "--template", templatePath, "-m", "save notes")
		out, err = saveCmd.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "save output: %s", string(out))

		status := strings.TrimSpace(runGitOutput(workDir, "status", "--porcelain"))
		Expect(status).To(BeEmpty())
	})
})

// A remote update with no local edit needs two independent users
// sharing one Production tree, which is exactly the concurrency this
// system exists to coordinate: user B uploads, user A's next Download
// picks it up with no conflict.
var _ = Describe("two users sharing one production tree", func() {
	var tmpDir, prodDir, workA, workB, templateA, templateB string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "cccopy-multiuser-*")
		Expect(err).NotTo(HaveOccurred())

		prodDir = filepath.Join(tmpDir, "production")
		workA = filepath.Join(tmpDir, "work-a")
		workB = filepath.Join(tmpDir, "work-b")
		templateA = filepath.Join(tmpDir, "template-a.ini")
		templateB = filepath.Join(tmpDir, "template-b.ini")

		Expect(os.MkdirAll(prodDir, 0755)).To(Succeed())
		group := currentGroupName()
		writeTemplate(templateA, prodDir, workA, group, 1)
		writeTemplate(templateB, prodDir, workB, group, 1)

		runGit(prodDir, "init")
		writeFile(filepath.Join(prodDir, "src", "a.txt"), "A")
		runGit(prodDir, "add", "-A")
		runGit(prodDir, "commit", "-m", "seed")
	})

	AfterEach(func() {
		cleanupTestDir(tmpDir)
	})

	It("a remote upload is picked up cleanly by another user's download", func() {
		out, err := exec.Command(binaryPath, "download", "--template", templateA).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "A download: %s", string(out))
		out, err = exec.Command(binaryPath, "download", "--template", templateB).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "B download: %s", string(out))

		writeFile(filepath.Join(workB, "src", "a.txt"), "A''")
		out, err = exec.Command(binaryPath, "upload", "--template", templateB, "-m", "b's change").CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "B upload: %s", string(out))

		out, err = exec.Command(binaryPath, "download", "--template", templateA).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), "A re-download: %s", string(out))

		got, err := os.ReadFile(filepath.Join(workA, "src", "a.txt"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(got)).To(Equal("A''"))
	})
})
