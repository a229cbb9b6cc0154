package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"inktrail/internal/config"
	"inktrail/internal/db"
	"inktrail/internal/domain"
	"inktrail/internal/engine"
	"inktrail/internal/migrate"
	"inktrail/internal/render"
	"inktrail/internal/repo"
	"inktrail/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ink",
	Short: "Inktrail CLI",
	Long: `Inktrail signs documents and lets anyone verify them later.
Core concepts:
- Workspace: your .inktrail directory with the database and stored artifacts.
- Documents: uploaded files with immutable version history; statuses go draft -> pending -> completed (archived is an exit).
- Personal signing: one signer places marks and seals the document in a single step.
- Group signing: a roster of signers each sign or decline; the owner finalizes once everyone has resolved.
- Access codes: group documents get a 6-digit PIN; three wrong attempts lock verification for a while.
- Verification: anyone with a signature id can check details and upload a file to compare hashes.
- Event log: diary of changes, view with 'ink log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("INKTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local@inktrail", "acting user email")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(documentCmd())
	rootCmd.AddCommand(signCmd())
	rootCmd.AddCommand(signerCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var name string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized %s (config at %s)\n", filepath.Join(workspace, ".inktrail"), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "inktrail", "service name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userShowCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := ensureUser(ctx, e, name, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := e.Repo.GetUserByEmail(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func documentCmd() *cobra.Command {
	doc := &cobra.Command{
		Use:   "document",
		Short: "Manage documents",
		Long:  "Documents carry immutable version history. Signing seals the latest version; a completed or archived document rejects further changes.",
	}
	doc.AddCommand(documentCreateCmd())
	doc.AddCommand(documentListCmd())
	doc.AddCommand(documentShowCmd())
	doc.AddCommand(documentVersionsCmd())
	doc.AddCommand(documentAddVersionCmd())
	doc.AddCommand(documentArchiveCmd())
	return doc
}

func documentCreateCmd() *cobra.Command {
	var title, file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a document from a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				doc, ver, err := e.CreateDocument(ctx, u.ID, title, nil, content)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"document": doc, "version": ver})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().StringVar(&file, "file", "", "path to document content")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func documentListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				docs, err := e.ListDocuments(ctx, repo.DocumentFilters{OwnerID: u.ID, Status: status})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Updated"})
				for _, d := range docs {
					tw.AppendRow(table.Row{d.ID, d.Title, d.Status, d.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func documentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				doc, err := e.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	return cmd
}

func documentVersionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions <id>",
		Short: "List versions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListVersions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func documentAddVersionCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "add-version <id>",
		Short: "Append a new version from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				ver, err := e.AddVersion(ctx, u.ID, args[0], content)
				if err != nil {
					return err
				}
				return printJSONOrTable(ver)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to content")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func documentArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				doc, err := e.ArchiveDocument(ctx, u.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	return cmd
}

func placementFlags(cmd *cobra.Command, p *engine.Placement) {
	cmd.Flags().Float64Var(&p.PositionX, "x", 0, "mark x position")
	cmd.Flags().Float64Var(&p.PositionY, "y", 0, "mark y position")
	cmd.Flags().IntVar(&p.PageNumber, "page", 1, "page number")
	cmd.Flags().Float64Var(&p.Width, "width", 0, "mark width")
	cmd.Flags().Float64Var(&p.Height, "height", 0, "mark height")
	cmd.Flags().StringVar(&p.Method, "method", "", "signature method")
}

func signCmd() *cobra.Command {
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Sign documents",
	}
	sign.AddCommand(signPersonalCmd())
	sign.AddCommand(signGroupCmd())
	sign.AddCommand(signDeclineCmd())
	sign.AddCommand(signFinalizeCmd())
	return sign
}

func signPersonalCmd() *cobra.Command {
	var versionID string
	var p engine.Placement
	cmd := &cobra.Command{
		Use:   "personal <document-id>",
		Short: "Sign alone and seal the document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				if versionID == "" {
					versions, err := e.ListVersions(ctx, args[0])
					if err != nil {
						return err
					}
					if len(versions) == 0 {
						return fmt.Errorf("document %s has no versions", args[0])
					}
					versionID = versions[0].ID
				}
				doc, err := e.SignPersonal(ctx, u.ID, versionID, []engine.Placement{p}, engine.AuditMeta{}, engine.SignOptions{DisplayMark: true})
				if err != nil {
					return err
				}
				return printJSONOrTable(doc)
			})
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "base version id (defaults to latest)")
	placementFlags(cmd, &p)
	return cmd
}

func signGroupCmd() *cobra.Command {
	var p engine.Placement
	cmd := &cobra.Command{
		Use:   "group <document-id>",
		Short: "Record your signature on a group document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				res, err := e.RecordGroupSignature(ctx, u.ID, args[0], p, engine.AuditMeta{})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	placementFlags(cmd, &p)
	return cmd
}

func signDeclineCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "decline <document-id>",
		Short: "Decline to sign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				return e.DeclineSignature(ctx, u.ID, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decline reason")
	return cmd
}

func signFinalizeCmd() *cobra.Command {
	var accessCode string
	cmd := &cobra.Command{
		Use:   "finalize <document-id>",
		Short: "Seal a fully signed group document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				doc, code, err := e.FinalizeGroup(ctx, u.ID, args[0], accessCode, engine.SignOptions{DisplayMark: true})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"document": doc, "access_code": code})
			})
		},
	}
	cmd.Flags().StringVar(&accessCode, "access-code", "", "6-digit PIN (generated when omitted)")
	return cmd
}

func signerCmd() *cobra.Command {
	signer := &cobra.Command{
		Use:   "signer",
		Short: "Manage group signer rosters",
	}
	signer.AddCommand(signerAddCmd())
	signer.AddCommand(signerListCmd())
	signer.AddCommand(signerRemoveCmd())
	signer.AddCommand(signerResetCmd())
	return signer
}

func signerAddCmd() *cobra.Command {
	var emails []string
	cmd := &cobra.Command{
		Use:   "add <document-id>",
		Short: "Register signers by email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(emails) == 0 {
				return fmt.Errorf("--email required at least once")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				var userIDs []string
				for _, email := range emails {
					su, err := ensureUser(ctx, e, "", email)
					if err != nil {
						return err
					}
					userIDs = append(userIDs, su.ID)
				}
				signers, err := e.RegisterSigners(ctx, u.ID, args[0], userIDs)
				if err != nil {
					return err
				}
				return printJSONOrTable(signers)
			})
		},
	}
	cmd.Flags().StringArrayVar(&emails, "email", []string{}, "signer email (repeatable)")
	return cmd
}

func signerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <document-id>",
		Short: "List the signer roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				signers, err := e.Repo.ListGroupSigners(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(signers)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Status", "Order", "Updated"})
				for _, s := range signers {
					tw.AppendRow(table.Row{s.UserID, s.Status, s.SignOrder, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func signerRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <document-id> <user-id>",
		Short: "Remove a pending signer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				return e.RemoveSigner(ctx, u.ID, args[0], args[1])
			})
		},
	}
	return cmd
}

func signerResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <document-id>",
		Short: "Reset the roster to PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := actingUser(ctx, e)
				if err != nil {
					return err
				}
				signers, err := e.ResetSigners(ctx, u.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(signers)
			})
		},
	}
	return cmd
}

func verifyCmd() *cobra.Command {
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify signatures",
	}
	verify.AddCommand(verifyShowCmd())
	verify.AddCommand(verifyUnlockCmd())
	verify.AddCommand(verifyFileCmd())
	return verify
}

func verifyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <signature-id>",
		Short: "Show public verification details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				view, err := e.VerificationDetails(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
	return cmd
}

func verifyUnlockCmd() *cobra.Command {
	var accessCode string
	cmd := &cobra.Command{
		Use:   "unlock <signature-id>",
		Short: "Unlock a PIN-gated signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				view, err := e.Unlock(ctx, args[0], accessCode)
				if err != nil {
					return err
				}
				if view == nil {
					fmt.Println("signature not found")
					return nil
				}
				return printJSONOrTable(view)
			})
		},
	}
	cmd.Flags().StringVar(&accessCode, "access-code", "", "6-digit PIN")
	_ = cmd.MarkFlagRequired("access-code")
	return cmd
}

func verifyFileCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "file <signature-id>",
		Short: "Check a file against the stored hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				res, err := e.VerifyUploadedFile(ctx, args[0], data)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the candidate file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if secret := os.Getenv("INKTRAIL_JWT_SECRET"); secret != "" {
				cfg.Session.JWTSecret = secret
			}
			if cfg.Session.JWTSecret == "" {
				return fmt.Errorf("session.jwt_secret or INKTRAIL_JWT_SECRET is required")
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			store, err := render.NewLocalStore(workspace, cfg.Service.PublicURL)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, render.Local{Store: store}, store)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Files: store})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Inktrail API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	store, err := render.NewLocalStore(workspace, cfg.Service.PublicURL)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, render.Local{Store: store}, store)
	return fn(ctx, e)
}

func actingUser(ctx context.Context, e *engine.Engine) (domain.User, error) {
	return ensureUser(ctx, e, "", viper.GetString("user"))
}

func ensureUser(ctx context.Context, e *engine.Engine, name, email string) (domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, fmt.Errorf("user email is required")
	}
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	if name == "" {
		name = e.Config.Defaults.SignerName
	}
	u = domain.User{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: e.Now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
