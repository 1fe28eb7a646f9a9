package models

import (
	"encoding/json"
	"time"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// UnlimitedTasks is the task_limit value meaning no quota
const UnlimitedTasks = -1

// Task sharing types
const (
	SharingPrivate      = "private"
	SharingOrganization = "organization"
	SharingShared       = "shared"
	SharingPublic       = "public"
)

// Review states for uploaded HTML pages and certification requests
const (
	ReviewRejected = -1
	ReviewPending  = 0
	ReviewApproved = 1
)

// Organization member roles
const (
	MemberAdmin  = "admin"
	MemberMember = "member"
)

// AI providers
const (
	ProviderChatServer = "chat_server"
	ProviderDeepSeek   = "deepseek"
	ProviderDoubao     = "doubao"
	ProviderQwen       = "qwen"
)

// Report progress states
const (
	ReportNotStarted = "not_started"
	ReportInProgress = "in_progress"
	ReportCompleted  = "completed"
	ReportError      = "error"
)

// Domain types

type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	PasswordHash      string     `json:"-"` // Never expose in JSON
	School            string     `json:"school"`
	Role              string     `json:"role"`
	TaskLimit         int        `json:"task_limit"`
	IsCertified       bool       `json:"is_certified"`
	CertifiedAt       *time.Time `json:"certified_at,omitempty"`
	CertificationNote *string    `json:"certification_note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanPublish reports whether the user may make tasks public
func (u *User) CanPublish() bool {
	return u.IsAdmin() || (u != nil && u.IsCertified)
}

type AIConfig struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	SelectedModel      string    `json:"selected_model"`
	DeepSeekAPIKey     string    `json:"deepseek_api_key"`
	DoubaoAPIKey       string    `json:"doubao_api_key"`
	QwenAPIKey         string    `json:"qwen_api_key"`
	ChatServerAPIURL   string    `json:"chat_server_api_url"`
	ChatServerAPIToken string    `json:"chat_server_api_token"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type HTMLFile struct {
	OriginalName string `json:"original_name"`
	SavedName    string `json:"saved_name"`
}

type Task struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	FileName           *string    `json:"file_name,omitempty"`
	FilePath           *string    `json:"-"`
	HTMLFiles          []HTMLFile `json:"html_files"`
	HTMLApproved       int        `json:"html_approved"`
	HTMLApprovedBy     *string    `json:"html_approved_by,omitempty"`
	HTMLApprovedAt     *time.Time `json:"html_approved_at,omitempty"`
	HTMLReviewNote     *string    `json:"html_review_note,omitempty"`
	HTMLAnalysis       *string    `json:"html_analysis,omitempty"`
	AnalysisReport     *string    `json:"analysis_report,omitempty"`
	CustomPrompt       *string    `json:"-"`
	UserPromptTemplate *string    `json:"user_prompt_template,omitempty"`
	RateLimitLog       *string    `json:"rate_limit_log,omitempty"`
	OrganizationID     *string    `json:"organization_id,omitempty"`
	SharingType        string     `json:"sharing_type"`
	IsFeatured         bool       `json:"is_featured"`
	LikeCount          int        `json:"like_count"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Submission struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	Data        string    `json:"-"`
	IPHash      *string   `json:"-"` // Never expose in JSON
	SubmittedAt time.Time `json:"submitted_at"`
}

type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	OrgCode     string    `json:"org_code"`
	CreatorID   string    `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type OrganizationMember struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Role           string    `json:"role"`
	JoinedAt       time.Time `json:"joined_at"`
}

type TaskShare struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CanEdit   bool      `json:"can_edit"`
	CreatedAt time.Time `json:"created_at"`
}

type Post struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	Replies   []PostReply `json:"replies"`
}

type PostReply struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CertificationRequest struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Username   string     `json:"username,omitempty"`
	FileName   string     `json:"file_name"`
	FilePath   string     `json:"-"`
	Status     int        `json:"status"`
	ReviewNote *string    `json:"review_note,omitempty"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Request types

type SendEmailCodeRequest struct {
	Email string `json:"email"`
}

type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	School    string `json:"school"`
	Phone     string `json:"phone"`
	EmailCode string `json:"email_code"`
}

type LoginRequest struct {
	Username string `json:"username"` // username, email or phone
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type PhoneRequest struct {
	Phone string `json:"phone"`
}

type ResetTicketRequest struct {
	ResetTicket string `json:"reset_ticket"`
}

type ResetPasswordRequest struct {
	ResetTicket     string `json:"reset_ticket"`
	EmailCode       string `json:"email_code"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type UpdateProfileRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	School   string `json:"school"`
	Phone    string `json:"phone"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

type TestAIRequest struct {
	Prompt string `json:"prompt"`
}

// UploadedFile carries a base64 encoded HTML page
type UploadedFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type CreateTaskRequest struct {
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	ShareScope     string        `json:"share_scope"`
	OrganizationID string        `json:"organization_id"`
	File           *UploadedFile `json:"file,omitempty"`
}

type UpdateTaskRequest struct {
	Title         *string        `json:"title,omitempty"`
	Description   *string        `json:"description,omitempty"`
	HTMLFiles     []UploadedFile `json:"html_files,omitempty"`
	FilesToRemove []string       `json:"files_to_remove,omitempty"`
	ReplaceFile   *UploadedFile  `json:"replace_file,omitempty"`
	RemoveFile    bool           `json:"remove_file,omitempty"`
	Visibility    string         `json:"visibility,omitempty"`
}

type AssignOrgRequest struct {
	OrganizationID string `json:"organization_id"`
}

type ShareTaskRequest struct {
	Username string `json:"username"`
}

type SaveTemplateRequest struct {
	UserPromptTemplate string `json:"user_prompt_template"`
}

type StartAnalysisRequest struct {
	CustomPrompt string `json:"custom_prompt"`
}

type CreateOrganizationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type JoinOrganizationRequest struct {
	OrgCode string `json:"org_code"`
}

type ContentRequest struct {
	Content string `json:"content"`
}

type ReviewActionRequest struct {
	Action string `json:"action"`
	Note   string `json:"note"`
}

type BatchReviewRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// Response types

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type ForgotPasswordResponse struct {
	Username    string `json:"username"`
	ResetTicket string `json:"reset_ticket"`
}

type UsernamesResponse struct {
	Usernames []string `json:"usernames"`
}

type MeResponse struct {
	User            User                  `json:"user"`
	TaskCount       int                   `json:"task_count"`
	PendingRequest  *CertificationRequest `json:"pending_certification,omitempty"`
	LastCertRequest *CertificationRequest `json:"last_certification,omitempty"`
}

type TestAIResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	Model           string `json:"model"`
	ModelLabel      string `json:"model_label"`
	ResponsePreview string `json:"response_preview"`
}

type CreateTaskResponse struct {
	Task     Task     `json:"task"`
	Warnings []string `json:"warnings,omitempty"`
}

type DashboardResponse struct {
	Tasks       []Task `json:"tasks"`
	TaskCount   int    `json:"task_count"`
	TaskLimit   int    `json:"task_limit"`
	IsCertified bool   `json:"is_certified"`
}

type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

// SubmissionView is a decoded submission payload as returned to clients
type SubmissionView struct {
	ID          string          `json:"id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Data        json.RawMessage `json:"data"`
}

type TaskDetailResponse struct {
	Task             Task             `json:"task"`
	Submissions      []SubmissionView `json:"submissions"`
	Pagination       Pagination       `json:"pagination"`
	HTMLFiles        []HTMLFile       `json:"html_files"`
	Shares           []TaskShare      `json:"shares"`
	CanAnalyzeExport bool             `json:"can_analyze_export"`
	Liked            bool             `json:"liked"`
}

type TaskSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type TaskListResponse struct {
	Items []TaskSummary `json:"items"`
	Count int           `json:"count"`
}

type SubmitResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type PublicSubmissionsResponse struct {
	Note             string           `json:"note"`
	TaskID           string           `json:"task_id"`
	TaskTitle        string           `json:"task_title"`
	TotalSubmissions int              `json:"total_submissions"`
	Submissions      []map[string]any `json:"submissions"`
}

type LikeResponse struct {
	Success bool `json:"success"`
	Liked   bool `json:"liked"`
	Count   int  `json:"count"`
}

type AnalysisResponse struct {
	Report             *string `json:"report,omitempty"`
	PreviewPrompt      string  `json:"preview_prompt"`
	UserPromptTemplate string  `json:"user_prompt_template"`
	Model              string  `json:"model,omitempty"`
	ModelLabel         string  `json:"model_label,omitempty"`
	Status             string  `json:"status"`
	Error              string  `json:"error,omitempty"`
}

type ReportStatusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Report   string `json:"report,omitempty"`
}

type OrganizationsResponse struct {
	Created []Organization `json:"created"`
	Joined  []Organization `json:"joined"`
}

type OrganizationDetailResponse struct {
	Organization Organization         `json:"organization"`
	Members      []OrganizationMember `json:"members"`
	Tasks        []Task               `json:"tasks"`
	IsCreator    bool                 `json:"is_creator"`
}

type CommunityResponse struct {
	Posts       []Post `json:"posts"`
	LatestTasks []Task `json:"latest_tasks"`
	LikedTasks  []Task `json:"liked_tasks"`
}

type AdminStats struct {
	TotalUsers            int     `json:"total_users"`
	AdminUsers            int     `json:"admin_users"`
	NormalUsers           int     `json:"normal_users"`
	NewUsersToday         int     `json:"new_users_today"`
	TotalTasks            int     `json:"total_tasks"`
	NewTasksToday         int     `json:"new_tasks_today"`
	AvgTasksPerUser       float64 `json:"avg_tasks_per_user"`
	TotalSubmissions      int     `json:"total_submissions"`
	NewSubmissionsToday   int     `json:"new_submissions_today"`
	AvgSubmissionsPerTask float64 `json:"avg_submissions_per_task"`
	TasksWithReports      int     `json:"tasks_with_reports"`
	ReportGenerationRate  float64 `json:"report_generation_rate"`
	UploadDirSize         string  `json:"upload_dir_size"`
}

type AdminUsersResponse struct {
	Users      []User     `json:"users"`
	Pagination Pagination `json:"pagination"`
}

type HTMLReviewItem struct {
	Task     Task    `json:"task"`
	Author   string  `json:"author"`
	Approver *string `json:"approver,omitempty"`
}

type HTMLReviewResponse struct {
	Items        []HTMLReviewItem `json:"items"`
	PendingCount int              `json:"pending_count"`
	Pagination   Pagination       `json:"pagination"`
}

type CertReviewResponse struct {
	Requests     []CertificationRequest `json:"requests"`
	PendingCount int                    `json:"pending_count"`
	Pagination   Pagination             `json:"pagination"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
